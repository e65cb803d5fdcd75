package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeBuild       ErrorType = "build"
	ErrorTypeEmptyOutput ErrorType = "empty_output"
	ErrorTypePlugin      ErrorType = "plugin"
	ErrorTypeIO          ErrorType = "io"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeInternal    ErrorType = "internal"
)

// BundlerError is a structured error type with context.
type BundlerError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Target      string
	FilePath    string
	Plugin      string
	Diagnostics []Diagnostic
	Recoverable bool
}

// ErrEmptyOutput is matched by every empty-output error through errors.Is.
var ErrEmptyOutput = &BundlerError{Type: ErrorTypeEmptyOutput, Code: ErrCodeEmptyOutput}

// Error implements the error interface.
func (e *BundlerError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Target != "" {
		parts = append(parts, "target:"+e.Target)
	}

	if e.Plugin != "" {
		parts = append(parts, "plugin:"+e.Plugin)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BundlerError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BundlerError) Is(target error) bool {
	var t *BundlerError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BundlerError) WithContext(key string, value interface{}) *BundlerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTarget records which build target the error belongs to.
func (e *BundlerError) WithTarget(target string) *BundlerError {
	e.Target = target

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildFailure creates a build failure carrying the engine diagnostics.
func NewBuildFailure(message string, cause error, diagnostics ...Diagnostic) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeBuild,
		Code:        ErrCodeBuildFailed,
		Message:     message,
		Cause:       cause,
		Diagnostics: diagnostics,
		Recoverable: true,
	}
}

// NewEmptyOutputError reports a build that finished without emitting a bundle.
func NewEmptyOutputError(target string) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeEmptyOutput,
		Code:        ErrCodeEmptyOutput,
		Message:     "build produced no output",
		Target:      target,
		Recoverable: true,
	}
}

// NewPluginError reports a plugin that failed while transforming a file.
func NewPluginError(plugin, filePath string, cause error) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypePlugin,
		Code:        ErrCodePluginFailed,
		Message:     "transform failed",
		Cause:       cause,
		Plugin:      plugin,
		FilePath:    filePath,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BundlerError {
	return &BundlerError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var be *BundlerError
	if errors.As(err, &be) {
		return be.Recoverable
	}

	return false
}

// IsValidationError checks if an error is a request or config validation failure.
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsEmptyOutput checks if a build finished without output.
func IsEmptyOutput(err error) bool {
	return hasType(err, ErrorTypeEmptyOutput)
}

// IsPluginError checks if a plugin failed during transform.
func IsPluginError(err error) bool {
	return hasType(err, ErrorTypePlugin)
}

// IsBuildFailure checks if an error is build-related. Plugin errors count as
// build failures.
func IsBuildFailure(err error) bool {
	return hasType(err, ErrorTypeBuild) || hasType(err, ErrorTypePlugin)
}

func hasType(err error, t ErrorType) bool {
	for err != nil {
		var be *BundlerError
		if !errors.As(err, &be) {
			return false
		}
		if be.Type == t {
			return true
		}
		err = be.Cause
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level that matches its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var be *BundlerError
	if !errors.As(err, &be) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch be.Type {
	case ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Validation error occurred",
			"type", be.Type,
			"code", be.Code)
	case ErrorTypeEmptyOutput:
		h.logger.Warn(ctx, err, "Build produced no output",
			"target", be.Target)
	case ErrorTypeBuild, ErrorTypePlugin:
		h.logger.Error(ctx, err, "Build failed",
			"type", be.Type,
			"code", be.Code,
			"target", be.Target,
			"file", be.FilePath,
			"diagnostics", len(be.Diagnostics))
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", be.Type,
			"code", be.Code)
	}
}

// Common error codes.
const (
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodePathTraversal    = "ERR_PATH_TRAVERSAL"
	ErrCodeBuildFailed      = "ERR_BUILD_FAILED"
	ErrCodeEmptyOutput      = "ERR_EMPTY_OUTPUT"
	ErrCodePluginFailed     = "ERR_PLUGIN_FAILED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeCacheIO          = "ERR_CACHE_IO"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
	Suggestions() []string
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
	HelpText     []string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// Suggestions returns helpful suggestions for fixing the error.
func (fve *FieldValidationError) Suggestions() []string {
	return fve.HelpText
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
		HelpText:     suggestions,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) {
	vec.Errors = append(vec.Errors, NewFieldValidationError(field, value, message, suggestions...))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToBundlerError converts the validation collection to a BundlerError.
func (vec *ValidationErrorCollection) ToBundlerError() *BundlerError {
	if !vec.HasErrors() {
		return nil
	}

	messages := make([]string, 0, len(vec.Errors))
	context := make(map[string]interface{}, len(vec.Errors))

	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
		context[err.Field()] = map[string]interface{}{
			"value":       err.Value(),
			"suggestions": err.Suggestions(),
		}
	}

	return &BundlerError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeValidationFailed,
		Message:     strings.Join(messages, "; "),
		Context:     context,
		Recoverable: true,
	}
}

// ErrPathTraversal creates a path traversal error.
func ErrPathTraversal(path string) *BundlerError {
	return NewValidationError(ErrCodePathTraversal, "path traversal attempt: "+path)
}
