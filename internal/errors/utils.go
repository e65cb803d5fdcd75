package errors

import (
	"errors"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New returns a plain error with the given text.
func New(text string) error { return errors.New(text) }

// Wrap wraps an error with additional context, creating a BundlerError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *BundlerError {
	if err == nil {
		return nil
	}

	// Keep the location details of an existing BundlerError
	var be *BundlerError
	if errors.As(err, &be) {
		return &BundlerError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       be,
			Context:     be.Context,
			Target:      be.Target,
			FilePath:    be.FilePath,
			Plugin:      be.Plugin,
			Diagnostics: be.Diagnostics,
			Recoverable: be.Recoverable,
		}
	}

	return &BundlerError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeBuild,
	}
}

// WrapBuild wraps an error as a build failure for a target
func WrapBuild(err error, message, target string) *BundlerError {
	be := Wrap(err, ErrorTypeBuild, ErrCodeBuildFailed, message)
	if be != nil {
		be.Target = target
	}
	return be
}

// WrapValidation wraps an error as a validation error
func WrapValidation(err error, code, message string) *BundlerError {
	return Wrap(err, ErrorTypeValidation, code, message)
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *BundlerError {
	be := Wrap(err, ErrorTypeIO, code, message)
	if be != nil {
		be.Recoverable = false
	}
	return be
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *BundlerError {
	be := Wrap(err, ErrorTypeConfig, code, message)
	if be != nil {
		be.Recoverable = false
	}
	return be
}

// FormatError formats an error for user display, including diagnostics
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	if diagnostics := DiagnosticsOf(err); len(diagnostics) > 0 {
		return err.Error() + "\n" + FormatDiagnostics(diagnostics)
	}

	return err.Error()
}

// DiagnosticsOf returns the engine diagnostics carried anywhere in the chain.
func DiagnosticsOf(err error) []Diagnostic {
	for err != nil {
		var be *BundlerError
		if !errors.As(err, &be) {
			return nil
		}
		if len(be.Diagnostics) > 0 {
			return be.Diagnostics
		}
		err = be.Cause
	}
	return nil
}
