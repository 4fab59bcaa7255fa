// Package telemetry provides the session/auth/transfer span lifecycle
// shared by the FTP and IMAP engines. Teardown order is fixed: telemetry
// ends before coordinator cleanup, which ends before the handler's
// disconnected notification.
package telemetry

import (
	"context"

	"go.opencensus.io/trace"
)

// ErrorCategory classifies a failure for telemetry attribution. It mirrors
// (and is kept in sync with, but does not import, to avoid a dependency
// cycle) the ftpserver ErrorCategory taxonomy.
type ErrorCategory string

// Error categories.
const (
	CategoryTransport     ErrorCategory = "TRANSPORT"
	CategoryProtocol      ErrorCategory = "PROTOCOL"
	CategoryAuth          ErrorCategory = "AUTH"
	CategoryAuthorization ErrorCategory = "AUTHORIZATION"
	CategoryNotFound      ErrorCategory = "NOT_FOUND"
	CategoryConflict      ErrorCategory = "CONFLICT"
	CategoryLimitExceeded ErrorCategory = "LIMIT_EXCEEDED"
	CategoryInternal      ErrorCategory = "INTERNAL"
	CategoryShutdown      ErrorCategory = "SHUTDOWN"
)

// Span wraps an OpenCensus span with the session-lifecycle helpers the two
// engines need: starting a session span on connect, a nested auth span on
// successful authentication, and event recording that never panics if the
// span was never started (e.g. telemetry disabled via a noop exporter).
type Span struct {
	ctx  context.Context
	span *trace.Span
}

// StartSession starts a span named "session" for a newly accepted
// connection, tagging it with the protocol engine name ("ftp" or "imap")
// and the client's remote address.
func StartSession(protocol, remoteAddr string) *Span {
	ctx, span := trace.StartSpan(context.Background(), "session")
	span.AddAttributes(
		trace.StringAttribute("protocol", protocol),
		trace.StringAttribute("remote_addr", remoteAddr),
	)

	return &Span{ctx: ctx, span: span}
}

// StartChild starts a nested span (e.g. "auth", "transfer") under the
// session span, returning a new Span scoped to it.
func (s *Span) StartChild(name string) *Span {
	ctx, span := trace.StartSpan(s.ctx, name)

	return &Span{ctx: ctx, span: span}
}

// Event records a named point-in-time event with key/value attributes.
func (s *Span) Event(name string, kv ...string) {
	attrs := make([]trace.Attribute, 0, len(kv)/2)

	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, trace.StringAttribute(kv[i], kv[i+1]))
	}

	s.span.Annotate(attrs, name)
}

// Fail records a failure with its error category and ends the span.
func (s *Span) Fail(category ErrorCategory, err error) {
	s.span.AddAttributes(trace.StringAttribute("error_category", string(category)))

	msg := ""
	if err != nil {
		msg = err.Error()
	}

	s.span.SetStatus(trace.Status{Code: int32(trace.StatusCodeUnknown), Message: msg})
	s.span.End()
}

// End ends the span without recording an error.
func (s *Span) End() {
	s.span.End()
}
