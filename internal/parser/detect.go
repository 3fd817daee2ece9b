package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies the kind of machine log.
type Format int

const (
	FormatUnknown Format = iota
	FormatTlog
	FormatDlog
)

func (f Format) String() string {
	switch f {
	case FormatTlog:
		return "Trajectory log"
	case FormatDlog:
		return "Dynalog"
	default:
		return "unknown"
	}
}

const sniffBytes = 5

// DetectFormat classifies the file at path from its first five bytes. A 'V'
// marks a trajectory log, an 'A' or 'B' a dynalog. Anything else yields
// FormatUnknown with a nil error; only I/O failures are returned as errors.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("failed to read log: %w", err)
	}
	return sniff(head[:n]), nil
}

func sniff(head []byte) Format {
	text := string(head)
	switch {
	case strings.ContainsRune(text, 'V'):
		return FormatTlog
	case strings.ContainsAny(text, "AB"):
		return FormatDlog
	default:
		return FormatUnknown
	}
}

// IsTlog reports whether path looks like a trajectory log.
func IsTlog(path string) bool {
	f, err := DetectFormat(path)
	return err == nil && f == FormatTlog
}

// IsDlog reports whether path looks like a dynalog.
func IsDlog(path string) bool {
	f, err := DetectFormat(path)
	return err == nil && f == FormatDlog
}

// IsLog reports whether path looks like either kind of machine log.
func IsLog(path string) bool {
	f, err := DetectFormat(path)
	return err == nil && f != FormatUnknown
}

// DlogPairPath returns the sibling of a dynalog file: the same name with the
// leading A swapped for B or vice versa.
func DlogPairPath(path string) (string, error) {
	dir, base := filepath.Split(path)
	if base == "" {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidArgument, path)
	}
	var swapped string
	switch base[0] {
	case 'A':
		swapped = "B" + base[1:]
	case 'B':
		swapped = "A" + base[1:]
	case 'a':
		swapped = "b" + base[1:]
	case 'b':
		swapped = "a" + base[1:]
	default:
		return "", fmt.Errorf("%w: dynalog name %q does not start with A or B", ErrInvalidArgument, base)
	}
	return filepath.Join(dir, swapped), nil
}

// IsDlogAFile reports whether the file name marks bank A of a dynalog pair.
func IsDlogAFile(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && (base[0] == 'A' || base[0] == 'a')
}

// HasPair reports whether the dynalog sibling of path exists.
func HasPair(path string) bool {
	pair, err := DlogPairPath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(pair)
	return err == nil && !info.IsDir()
}
