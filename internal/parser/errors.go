package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when a file is not a recognized machine log
	// or its contents cannot be decoded (bad signature, truncated buffer,
	// inconsistent row counts).
	ErrInvalidFormat = errors.New("invalid log format")

	// ErrMissingPairFile is returned when the B-file of a dynalog pair
	// cannot be found next to its A-file (or vice versa).
	ErrMissingPairFile = errors.New("missing dynalog pair file")

	// ErrStateNotReady is returned when an operation needs data that does not
	// exist yet, e.g. the difference of an axis without expected values.
	ErrStateNotReady = errors.New("state not ready")

	// ErrInvalidArgument is returned for rejected public-API parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// FormatError describes why a log file could not be decoded.
type FormatError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *FormatError) Error() string {
	msg := e.Reason
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidFormat, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidFormat, msg)
}

// Is lets errors.Is match ErrInvalidFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

func newFormatError(reason string, args ...any) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(reason, args...)}
}

// withPath attaches the file path to a FormatError, leaving other errors untouched.
func withPath(err error, path string) error {
	var fe *FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}

// MissingPairError names the dynalog half that could not be found.
type MissingPairError struct {
	Path     string // the file that was opened
	PairPath string // the sibling that is missing
}

func (e *MissingPairError) Error() string {
	return fmt.Sprintf("%s: %s has no sibling %s", ErrMissingPairFile, e.Path, e.PairPath)
}

func (e *MissingPairError) Is(target error) bool {
	return target == ErrMissingPairFile
}
