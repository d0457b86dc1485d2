// Package errors defines the error taxonomy shared by the compiler, the batch
// executor and the parallel explain orchestrator. Every fatal condition is
// tagged with a sentinel so callers can branch with errors.Is, and the CLI
// maps the sentinel onto an exit code.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrCompilationInvariant = errors.New("compilation invariant violated")
	ErrAmbiguousType        = errors.New("ambiguous structural type")
	ErrStore                = errors.New("backing store error")
	ErrWorkerFailed         = errors.New("explain worker failed")
	ErrUnsupported          = errors.New("unsupported operation")
)

// Stages reported in AppError.Stage.
const (
	StageConfig  = "config"
	StageCompile = "compile"
	StageBatch   = "batch"
	StageExplain = "explain"
	StageWorker  = "worker"
)

// AppError attaches the failing stage and a diagnostic message to a sentinel.
type AppError struct {
	Err     error
	Stage   string
	Message string
}

func (e *AppError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Stage, e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, stage string, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Stage:   stage,
		Message: message,
	}
}

func Newf(sentinel error, stage string, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

// CompilationInvariantError reports a pattern the compiler refuses to
// translate. Pattern is the textual form of the offending tree pattern.
type CompilationInvariantError struct {
	Pattern string
	Reason  string
}

func (e *CompilationInvariantError) Error() string {
	return fmt.Sprintf("%s: %s (pattern %s)", ErrCompilationInvariant.Error(), e.Reason, e.Pattern)
}

func (e *CompilationInvariantError) Unwrap() error {
	return ErrCompilationInvariant
}

// Exit codes returned by ExitCode.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitInvariant = 3
	ExitStore     = 4
)

// ExitCode maps err onto the process exit code of the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrAmbiguousType):
		return ExitConfig
	case errors.Is(err, ErrCompilationInvariant):
		return ExitInvariant
	case errors.Is(err, ErrStore):
		return ExitStore
	default:
		return ExitFailure
	}
}
