package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatSubstitutesArgs(t *testing.T) {
	b := New(map[string]string{"greet": "hello %s"})
	require.Equal(t, "hello alice", b.Format("greet", "alice"))
}

func TestFormatUnknownKeyFallsBackToKey(t *testing.T) {
	b := New(nil)
	require.Equal(t, "no.such.key", b.Format("no.such.key"))
}

func TestFormatNoArgsReturnsTemplateVerbatim(t *testing.T) {
	b := New(map[string]string{"literal": "100% full"})
	require.Equal(t, "100% full", b.Format("literal"))
}

func TestDefaultBundleHasCoreKeys(t *testing.T) {
	require.Equal(t, "Authentication failed", Default.Format("auth.invalid"))
	require.Equal(t, "Quota exceeded: used %d of %d bytes", Default.Format("quota.exceeded"))
	require.Equal(t, "USER 5/10 bytes used (50.0%)", Default.Format("quota.report", "USER", 5, 10, 50.0))
}
