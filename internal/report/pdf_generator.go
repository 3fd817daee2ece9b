package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/user/machinelog_analyzer_go/internal/analysis"
)

const (
	inchToMm               = 25.4
	pdfPageWidthLandscape  = 11 * inchToMm // Letter landscape
	pdfPageHeightLandscape = 8.5 * inchToMm
	pdfMargin              = 0.5 * inchToMm
	pdfContentWidth        = pdfPageWidthLandscape - (2 * pdfMargin)

	topRanked = 10
)

// pdfStyler holds reusable styling and state for PDF generation
type pdfStyler struct {
	pdf         *gofpdf.Fpdf
	styles      map[string]func()
	lineHeight  float64
	currentY    float64 // manually tracked Y position for flowing content
	pageHeight  float64
	contentTopY float64
}

func newPDFStyler(pdf *gofpdf.Fpdf) *pdfStyler {
	s := &pdfStyler{
		pdf:         pdf,
		styles:      make(map[string]func()),
		lineHeight:  6, // mm
		pageHeight:  pdfPageHeightLandscape - pdfMargin,
		contentTopY: pdfMargin,
	}
	s.currentY = s.contentTopY
	s.defineStyles()
	return s
}

func (s *pdfStyler) defineStyles() {
	s.styles["h1"] = func() {
		s.pdf.SetFont("Arial", "B", 16)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["h2"] = func() {
		s.pdf.SetFont("Arial", "B", 14)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["normal"] = func() {
		s.pdf.SetFont("Arial", "", 10)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableHeader"] = func() {
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetFillColor(200, 200, 200)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableCell"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(50, 50, 50)
	}
	s.styles["tableCellRed"] = func() { // out of tolerance values
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetTextColor(200, 0, 0)
	}
}

func (s *pdfStyler) applyStyle(styleName string) {
	if fn, ok := s.styles[styleName]; ok {
		fn()
	} else {
		s.styles["normal"]()
	}
}

func (s *pdfStyler) newPage() {
	s.pdf.AddPage()
	s.currentY = s.contentTopY
}

func (s *pdfStyler) checkAddPage(neededHeight float64) {
	if s.currentY+neededHeight > s.pageHeight {
		s.newPage()
	}
}

func (s *pdfStyler) writeParagraph(text string, styleName string, align string) {
	s.applyStyle(styleName)
	lines := s.pdf.SplitLines([]byte(text), pdfContentWidth)
	s.checkAddPage(float64(max(len(lines), 1)) * s.lineHeight)

	s.pdf.SetXY(pdfMargin, s.currentY)
	s.pdf.MultiCell(pdfContentWidth, s.lineHeight, text, "", align, false)
	s.currentY = s.pdf.GetY() + 1
}

func (s *pdfStyler) addSpacer(height float64) {
	s.currentY += height
	if s.currentY > s.pageHeight {
		s.newPage()
	}
}

func (s *pdfStyler) addImage(imageBytes []byte, imageName string, width float64, height float64, caption string) {
	s.pdf.RegisterImageReader(imageName, "PNG", bytes.NewReader(imageBytes))

	if width > pdfContentWidth {
		ratio := pdfContentWidth / width
		width = pdfContentWidth
		height *= ratio
	}
	captionHeight := 0.0
	if caption != "" {
		captionHeight = s.lineHeight + 1
	}
	s.checkAddPage(height + captionHeight)

	s.pdf.Image(imageName, pdfMargin+(pdfContentWidth-width)/2, s.currentY, width, height, false, "PNG", 0, "")
	s.currentY += height

	if caption != "" {
		s.addSpacer(1)
		s.writeParagraph(caption, "normal", "C")
	}
	s.addSpacer(2)
}

// table draws a bordered table. cellStyle picks the style of each cell.
func (s *pdfStyler) table(headers []string, widthsRel []float64, rows [][]string, cellStyle func(row, col int) string) {
	widths := make([]float64, len(widthsRel))
	for i, rel := range widthsRel {
		widths[i] = rel * pdfContentWidth
	}

	drawHeader := func() {
		x := pdfMargin
		s.applyStyle("tableHeader")
		for i, header := range headers {
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[i], s.lineHeight, header, "1", 0, "C", true, 0, "")
			x += widths[i]
		}
		s.currentY += s.lineHeight
	}

	s.checkAddPage(s.lineHeight * 2)
	drawHeader()
	for r, row := range rows {
		if s.currentY+s.lineHeight > s.pageHeight {
			s.newPage()
			drawHeader()
		}
		x := pdfMargin
		for c, cell := range row {
			s.applyStyle(cellStyle(r, c))
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[c], s.lineHeight, cell, "1", 0, "C", false, 0, "")
			x += widths[c]
		}
		s.currentY += s.lineHeight
	}
}

func plainCells(int, int) string { return "tableCell" }

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// BuildPDFReport writes a one-log summary: delivery and gamma statistics,
// leaves exceeding tolerance, rankings and the rendered plots.
func BuildPDFReport(path string, s *LogSummary) error {
	if s == nil {
		return fmt.Errorf("no summary to report")
	}

	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AddPage()

	styler := newPDFStyler(pdf)

	styler.writeParagraph(fmt.Sprintf("Machine Log Analysis: %s", s.FileName), "h1", "C")
	styler.addSpacer(5)

	styler.writeParagraph("Delivery", "h2", "L")
	styler.table([]string{"Quantity", "Value"}, []float64{0.5, 0.5}, [][]string{
		{"Log format", s.Format},
		{"Snapshots (total / used)", fmt.Sprintf("%d / %d", s.NumSnapshots, s.NumBeamOn)},
		{"Beam holds", strconv.Itoa(s.NumBeamholds)},
		{"MLC leaves", fmt.Sprintf("%d (%s)", s.NumLeaves, map[bool]string{true: "HD", false: "standard"}[s.HDMLC])},
		{"Leaves moved (IMRT)", yesNo(s.IMRT)},
	}, plainCells)
	styler.addSpacer(5)

	styler.writeParagraph("Gamma", "h2", "L")
	styler.table([]string{"Quantity", "Value"}, []float64{0.5, 0.5}, [][]string{
		{"Criteria", fmt.Sprintf("%.1f%% / %.1f mm, threshold %.0f%%", s.Params.DoseTA, s.Params.DistTA, s.Params.Threshold)},
		{"Resolution", fmt.Sprintf("%.2f mm", s.Params.Resolution)},
		{"Pass rate", fmt.Sprintf("%.2f%%", s.PassPercent)},
		{"Average gamma", formatGamma(s.AvgGamma)},
	}, plainCells)
	if s.Clamped > 0 {
		styler.writeParagraph(fmt.Sprintf("Note: %d fluence windows reached outside the 400 mm map and were clamped.", s.Clamped), "normal", "L")
	}
	styler.addSpacer(5)

	styler.writeParagraph("Leaf RMS Error (cm)", "h2", "L")
	var rmsRows [][]string
	for _, bank := range []analysis.Bank{analysis.BankA, analysis.BankB, analysis.BankBoth} {
		rmsRows = append(rmsRows, []string{string(bank), fmt.Sprintf("%.4f", s.RMSAvg[bank]), fmt.Sprintf("%.4f", s.RMSMax[bank])})
	}
	styler.table([]string{"Bank", "Average", "Maximum"}, []float64{0.3, 0.35, 0.35}, rmsRows, plainCells)
	styler.writeParagraph(fmt.Sprintf("95th percentile absolute error: %.4f cm", s.Error95), "normal", "L")

	styler.newPage()
	writeLeafTables(styler, s.Leaves)

	styler.newPage()
	styler.writeParagraph("Graphical Analysis", "h1", "C")
	styler.addSpacer(5)

	plotDefs := []struct {
		Key     string
		Title   string
		Caption string
		Aspect  float64 // height / width of the rendered PNG
	}{
		{PlotFluenceActual, "Actual Fluence", "Fluence reconstructed from logged leaf, jaw and MU positions", 0.5},
		{PlotFluenceExpected, "Expected Fluence", "Fluence reconstructed from planned positions", 0.5},
		{PlotGamma, "Gamma Map", "Gamma per pixel; grey pixels are undefined", 0.5},
		{PlotPassFail, "Gamma Pass/Fail", "Red pixels have gamma >= 1", 0.5},
		{PlotGammaHistogram, "Gamma Histogram", "Pixel count per gamma bin", 0.5},
		{PlotLeafRMS, "Leaf RMS Error", "RMS positional error per leaf and bank", 0.5},
	}

	imgWidth := pdfContentWidth * 0.6
	for i, pDef := range plotDefs {
		if i > 0 && i%2 == 0 {
			styler.newPage()
		}
		styler.writeParagraph(pDef.Title, "h2", "L")
		if imgBytes, ok := s.Plots[pDef.Key]; ok && len(imgBytes) > 0 {
			styler.addImage(imgBytes, pDef.Key, imgWidth, imgWidth*pDef.Aspect, pDef.Caption)
		} else {
			styler.writeParagraph(fmt.Sprintf("Plot for %s not available.", pDef.Title), "normal", "L")
		}
	}

	return pdf.OutputFileAndClose(path)
}

func writeLeafTables(styler *pdfStyler, leaves *analysis.LeafReport) {
	if leaves == nil || len(leaves.Results) == 0 {
		styler.writeParagraph("No leaf results to display.", "normal", "L")
		return
	}

	styler.writeParagraph(fmt.Sprintf("Leaves Exceeding Tolerance (%.2f cm RMS)", leaves.ToleranceCM), "h2", "L")
	out := leaves.OutOfTolerance()
	if len(out) > 0 {
		rows := make([][]string, len(out))
		for i, leaf := range out {
			rows[i] = []string{
				leaf.LeafID,
				strconv.Itoa(leaf.LeafNum),
				yesNo(leaf.Moved),
				fmt.Sprintf("%.4f", leaf.RMS),
				fmt.Sprintf("%.4f", leaf.MaxError),
			}
		}
		styler.table([]string{"Leaf ID", "Leaf Number", "Moved", "RMS (cm)", "Max Error (cm)"},
			[]float64{0.2, 0.2, 0.2, 0.2, 0.2}, rows,
			func(_, col int) string {
				if col == 3 {
					return "tableCellRed"
				}
				return "tableCell"
			})
	} else {
		styler.writeParagraph(fmt.Sprintf("No leaves exceeded the %.2f cm tolerance.", leaves.ToleranceCM), "normal", "L")
	}
	styler.addSpacer(5)

	rankings := []struct {
		Title string
		Data  []analysis.RankedLeafInfo
		Label string
	}{
		{"Top 10 Leaves by RMS Error", leaves.RankedByRMS, "RMS (cm)"},
		{"Top 10 Leaves by Maximum Error", leaves.RankedByMaxError, "Max Error (cm)"},
	}
	for _, rankSet := range rankings {
		styler.writeParagraph(rankSet.Title, "h2", "L")
		n := min(topRanked, len(rankSet.Data))
		rows := make([][]string, n)
		for i := 0; i < n; i++ {
			item := rankSet.Data[i]
			rows[i] = []string{strconv.Itoa(i + 1), item.LeafID, string(item.Bank), fmt.Sprintf("%.4f", item.Value)}
		}
		styler.table([]string{"Rank", "Leaf ID", "Bank", rankSet.Label}, []float64{0.1, 0.3, 0.3, 0.3}, rows, plainCells)
		styler.addSpacer(5)
	}

	if len(leaves.AnalysisErrors) > 0 {
		styler.writeParagraph("Analysis Notes", "h2", "L")
		for _, msg := range leaves.AnalysisErrors {
			styler.writeParagraph(msg, "normal", "L")
		}
	}
}
