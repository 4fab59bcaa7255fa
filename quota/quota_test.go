package quota

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryUnlimitedByDefault(t *testing.T) {
	m := NewInMemory(0)

	require.True(t, m.CanStore("alice", 1<<30))
	require.NoError(t, m.Reserve("alice", 1<<30))

	usage, err := m.Usage("alice")
	require.NoError(t, err)
	require.True(t, usage.Unlimited)
	require.Equal(t, SourceNone, usage.Source)
}

func TestInMemoryDefaultLimit(t *testing.T) {
	m := NewInMemory(100)

	require.True(t, m.CanStore("alice", 100))
	require.False(t, m.CanStore("alice", 101))

	require.NoError(t, m.Reserve("alice", 60))

	err := m.Reserve("alice", 60)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrQuotaExceeded))

	usage, err := m.Usage("alice")
	require.NoError(t, err)
	require.Equal(t, int64(60), usage.Used)
	require.Equal(t, SourceDefault, usage.Source)
}

func TestInMemoryPerUserLimitOverridesDefault(t *testing.T) {
	m := NewInMemory(100)

	require.NoError(t, m.SetLimit("alice", 10))
	require.False(t, m.CanStore("alice", 11))

	usage, err := m.Usage("alice")
	require.NoError(t, err)
	require.Equal(t, SourceUser, usage.Source)
	require.Equal(t, int64(10), usage.Limit)

	require.NoError(t, m.SetLimit("alice", 0))

	usage, err = m.Usage("alice")
	require.NoError(t, err)
	require.Equal(t, SourceDefault, usage.Source)
}

func TestInMemoryReleaseNeverGoesNegative(t *testing.T) {
	m := NewInMemory(0)

	require.NoError(t, m.Reserve("alice", 10))
	m.Release("alice", 100)

	usage, err := m.Usage("alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), usage.Used)
}

func TestUsagePercent(t *testing.T) {
	u := Usage{Used: 25, Limit: 100}
	require.InDelta(t, 25.0, u.Percent(), 0.001)

	u = Usage{Used: 25, Unlimited: true}
	require.Equal(t, 0.0, u.Percent())
}

func TestSourceString(t *testing.T) {
	require.Equal(t, "USER", SourceUser.String())
	require.Equal(t, "ROLE", SourceRole.String())
	require.Equal(t, "DEFAULT", SourceDefault.String())
	require.Equal(t, "NONE", SourceNone.String())
}
