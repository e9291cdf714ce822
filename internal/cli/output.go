package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/lockerbench/internal/failure"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // run finished and the store was restored
	ExitFailure      = 1 // run finished with residue, an interrupted load, a race nobody won, or a failed check
	ExitCommandError = 2 // setup error (bad config, store unreachable, provisioning failed)
	ExitViolation    = 3 // more than one actor won the same resource
)

// ExitError carries the process exit code for a failed command.
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

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// runError maps a harness error to an exit code by its failure kind.
func runError(message string, err error) *ExitError {
	switch failure.KindOf(err) {
	case failure.KindInvariantViolation:
		return WrapExitError(ExitViolation, message, err)
	case failure.KindRequestFailed:
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

// errorCode is the machine-readable code reported for err.
func errorCode(err error) string {
	if kind := failure.KindOf(err); kind != "" {
		return string(kind)
	}
	return "COMMAND_ERROR"
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command's output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	RunID  string    `json:"run_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // failure kind, e.g. "STORE_UNAVAILABLE"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs text as is, or data in a JSON envelope.
func (f *OutputFormatter) Success(runID string, data any, text string) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", RunID: runID, Data: data})
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Error outputs an error envelope in JSON mode, where data may carry a
// partial result such as the document of a run whose race failed. In text
// mode it writes nothing: the returned error is printed once by main.
func (f *OutputFormatter) Error(runID string, err error, data any) error {
	if f.Format != "json" {
		return nil
	}
	return f.encode(CLIResponse{
		Status: "error",
		RunID:  runID,
		Data:   data,
		Error:  &CLIError{Code: errorCode(err), Message: err.Error()},
	})
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled. It always
// goes to the diagnostic writer so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
