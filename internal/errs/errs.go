// Package errs defines the failure taxonomy shared by the toolchain engine.
//
// Every terminal failure reported to a caller is an *Error carrying a Kind,
// the operation or stage that failed, and any captured subprocess output.
// Callers classify with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, errs.ErrNotFound) { ... provision ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindTransport            Kind = "transport"
	KindInstallFailure       Kind = "install_failure"
	KindVerificationTimeout  Kind = "verification_timeout"
	KindPartialState         Kind = "partial_state"
	KindToolchainUnavailable Kind = "toolchain_unavailable"
	KindSubprocessFailure    Kind = "subprocess_failure"
	KindCancelled            Kind = "cancelled"
)

// Recoverable reports whether the next layer up is expected to handle the kind
// (NotFound is recovered by provisioning; everything else is terminal for the job).
func (k Kind) Recoverable() bool {
	return k == KindNotFound
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrInstallFailure       = &Error{Kind: KindInstallFailure}
	ErrVerificationTimeout  = &Error{Kind: KindVerificationTimeout}
	ErrPartialState         = &Error{Kind: KindPartialState}
	ErrToolchainUnavailable = &Error{Kind: KindToolchainUnavailable}
	ErrSubprocessFailure    = &Error{Kind: KindSubprocessFailure}
	ErrCancelled            = &Error{Kind: KindCancelled}
)

// Error is a classified engine failure.
type Error struct {
	Kind    Kind
	Op      string
	Stage   string
	Message string
	Stdout  string
	Stderr  string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " %s", e.Op)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap implements Go 1.13+ error unwrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Output returns captured subprocess output for diagnostics.
func (e *Error) Output() string {
	switch {
	case e.Stdout != "" && e.Stderr != "":
		return e.Stdout + "\n" + e.Stderr
	case e.Stderr != "":
		return e.Stderr
	default:
		return e.Stdout
	}
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// NotFound reports a tool missing from every candidate location.
func NotFound(tool string) *Error {
	return &Error{Kind: KindNotFound, Op: "resolve " + tool, Message: "not found in any candidate location"}
}

// ToolchainUnavailable reports a required build tool that could not be resolved.
func ToolchainUnavailable(tool string, cause error) *Error {
	return &Error{Kind: KindToolchainUnavailable, Op: "resolve " + tool, Message: "required tool unavailable", Cause: cause}
}

// Subprocess reports a non-zero exit with the captured output attached.
func Subprocess(stage, command string, stdout, stderr []byte, cause error) *Error {
	return &Error{
		Kind:   KindSubprocessFailure,
		Op:     command,
		Stage:  stage,
		Stdout: string(stdout),
		Stderr: string(stderr),
		Cause:  cause,
	}
}

// WithStage returns a copy of e tagged with stage.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}

// KindOf extracts the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
