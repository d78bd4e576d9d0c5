package notebook

import "errors"

// FormatError reports text that does not meet the minimal structural
// requirements of the notebook format. It is never returned for merely
// unusual content such as unknown metadata keys or an unrecognized
// version string.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "not a recognized Pluto notebook: " + e.Reason
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
