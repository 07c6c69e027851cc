package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the bot stopped with an error, or a check failed
	ExitCommandError = 2 // bad flags, unreadable config, unreachable endpoint
)

// Error codes printed by the output formatter.
const (
	ErrCodeGeneric = "E001"
	ErrCodeConfig  = "E002"
	ErrCodeStorage = "E003"
	ErrCodeConsole = "E004"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope of --format json output.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Output writes command results as text or JSON.
type Output struct {
	Format  string
	Writer  io.Writer
	Diag    io.Writer
	Verbose bool
}

func newOutput(opts *RootOptions, out, diag io.Writer) *Output {
	return &Output{Format: opts.Format, Writer: out, Diag: diag, Verbose: opts.Verbose}
}

// Success prints data. In text mode, text is printed instead when given.
func (o *Output) Success(data any, text string) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text == "" {
		text = fmt.Sprint(data)
	}
	_, err := fmt.Fprintln(o.Writer, text)
	return err
}

// Error prints a failure.
func (o *Output) Error(code, message string, details any) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(o.Writer, "Error [%s]: %s\n", code, message)
	if o.Verbose && details != nil {
		fmt.Fprintf(o.Writer, "Details: %v\n", details)
	}
	return nil
}

// Logf prints a diagnostic line in verbose mode. Diagnostics never go to
// Writer in JSON mode.
func (o *Output) Logf(format string, args ...any) {
	if !o.Verbose {
		return
	}
	w := o.Diag
	if w == nil {
		if o.Format == "json" {
			return
		}
		w = o.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
