package fluence

import "gonum.org/v1/gonum/mat"

// sobelRows is the Sobel derivative along the columns of m (leaf travel),
// smoothed across rows. Edges use half-sample reflection, so index -1 maps
// to 0 and index n maps to n-1.
func sobelRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	if r == 0 || c == 0 {
		return out
	}
	// derivative [-1, 0, 1] along columns
	deriv := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			deriv.Set(i, j, m.At(i, reflect(j+1, c))-m.At(i, reflect(j-1, c)))
		}
	}
	// smoothing [1, 2, 1] along rows
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := deriv.At(reflect(i-1, r), j) + 2*deriv.At(i, j) + deriv.At(reflect(i+1, r), j)
			out.Set(i, j, v)
		}
	}
	return out
}

func reflect(i, n int) int {
	switch {
	case i < 0:
		return -i - 1
	case i >= n:
		return 2*n - i - 1
	}
	return i
}
