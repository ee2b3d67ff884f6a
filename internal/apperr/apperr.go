// Package apperr defines the typed failures surfaced by studycrew.
// Every error carries a machine-readable [Kind] and a human-readable message
// so the HTTP and CLI layers can report failures uniformly.
//
// Callers match kinds with the standard library:
//
//	if errors.Is(err, apperr.NotFound) { ... }
//
//	var e *apperr.Error
//	if errors.As(err, &e) && e.Role != "" { ... }
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation is bad caller input: unknown strategy, empty question,
	// invalid chunk configuration, unsupported upload. Never retried.
	KindValidation Kind = "validation"
	// KindDocumentProcessing means extraction or chunking produced no usable
	// content, or a query produced no context.
	KindDocumentProcessing Kind = "document_processing"
	// KindNotFound is an unknown document name or an empty registry.
	KindNotFound Kind = "not_found"
	// KindUnsupportedFormat is a file extension no extractor handles.
	KindUnsupportedFormat Kind = "unsupported_format"
	// KindExtractionFailed is a readable file whose text could not be parsed.
	KindExtractionFailed Kind = "extraction_failed"
	// KindBackendUnavailable is an index, embedding or reasoning backend failure.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindBackendTimeout is a backend call that exceeded its deadline.
	KindBackendTimeout Kind = "backend_timeout"
	// KindAgent is an expert or synthesis task failure. Role names the task.
	KindAgent Kind = "agent"
)

// Sentinels for errors.Is matching. Comparing against these matches any
// *Error of the same Kind regardless of message.
var (
	Validation         = &Error{Kind: KindValidation}
	DocumentProcessing = &Error{Kind: KindDocumentProcessing}
	NotFound           = &Error{Kind: KindNotFound}
	UnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ExtractionFailed   = &Error{Kind: KindExtractionFailed}
	BackendUnavailable = &Error{Kind: KindBackendUnavailable}
	BackendTimeout     = &Error{Kind: KindBackendTimeout}
	Agent              = &Error{Kind: KindAgent}
)

// Error is a classified failure.
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind
	// Op is the operation that failed, e.g. "retriever.Retrieve".
	Op string
	// Role is the expert role that failed. Only set for KindAgent.
	Role string
	// Msg is the human-readable description.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

// Error formats the failure as "op: [role] msg: cause".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Role != "" {
		fmt.Fprintf(&b, "role %q: ", e.Role)
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error around cause. It returns nil when cause is nil.
func Wrap(kind Kind, op string, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when
// err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RoleOf returns the expert role named anywhere in err's chain.
func RoleOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Role != "" {
			return e.Role
		}
		err = e.Err
	}
	return ""
}
