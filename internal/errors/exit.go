package errors

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitEngine  = 3
	ExitSink    = 4
)

// ExitCode maps an error to the process exit status.
// Normal completion, including a reached limit or a stop, is nil and maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	e, ok := As(err)
	if !ok {
		return ExitFailure
	}

	switch {
	case e.Code == ErrCodeOutputWrite:
		return ExitSink
	case e.Code == ErrCodeSearchFailed:
		return ExitEngine
	case e.Category == CategoryConfig, e.Category == CategoryValidation:
		return ExitUsage
	default:
		return ExitFailure
	}
}
