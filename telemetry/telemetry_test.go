package telemetry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/trace"
)

type captureExporter struct {
	mu    sync.Mutex
	spans []*trace.SpanData
}

func (e *captureExporter) ExportSpan(s *trace.SpanData) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.spans = append(e.spans, s)
}

func (e *captureExporter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, len(e.spans))
	for i, s := range e.spans {
		names[i] = s.Name
	}

	return names
}

func withCapture(t *testing.T) *captureExporter {
	t.Helper()

	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})

	exporter := &captureExporter{}
	trace.RegisterExporter(exporter)
	t.Cleanup(func() { trace.UnregisterExporter(exporter) })

	return exporter
}

func TestSpanLifecycleEndsChildThenSession(t *testing.T) {
	exporter := withCapture(t)

	session := StartSession("ftp", "127.0.0.1:4242")
	auth := session.StartChild("auth")
	auth.Event("login", "user", "alice")
	auth.End()
	session.End()

	names := exporter.names()
	require.Contains(t, names, "session")
	require.Contains(t, names, "auth")
}

func TestSpanFailRecordsCategory(t *testing.T) {
	exporter := withCapture(t)

	session := StartSession("imap", "127.0.0.1:4243")
	transfer := session.StartChild("transfer")
	transfer.Fail(CategoryLimitExceeded, errors.New("quota exceeded"))
	session.End()

	require.Contains(t, exporter.names(), "transfer")

	exporter.mu.Lock()
	defer exporter.mu.Unlock()

	for _, s := range exporter.spans {
		if s.Name == "transfer" {
			require.Equal(t, string(CategoryLimitExceeded), s.Attributes["error_category"])
		}
	}
}
