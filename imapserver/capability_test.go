package imapserver

import (
	"crypto/tls"
	"testing"

	lognoop "github.com/fclairamb/go-log/noop"
	"github.com/stretchr/testify/require"
)

type testRealm struct {
	allowPlain bool
	mechanisms []string
}

func (r *testRealm) VerifyPlain(string, string) (string, bool) { return "", false }
func (r *testRealm) AllowPlaintextLogin() bool                 { return r.allowPlain }
func (r *testRealm) Mechanisms() []string                      { return r.mechanisms }

func newTestConn(stage sessionStage, settings *Settings, realm Realm) *Conn {
	srv := &IMAPServer{Logger: lognoop.NewNoOpLogger(), settings: settings, realm: realm}

	c := &Conn{server: srv, stage: stage}

	return c
}

func TestCapabilityPreAuthPlainAllowed(t *testing.T) {
	c := newTestConn(stageNotAuthenticated, &Settings{}, &testRealm{allowPlain: true, mechanisms: []string{"plain"}})

	cap := c.capabilityString()
	require.Contains(t, cap, "IMAP4rev2")
	require.Contains(t, cap, "AUTH=PLAIN")
	require.NotContains(t, cap, "LOGINDISABLED")
	require.NotContains(t, cap, "IDLE")
}

func TestCapabilityPreAuthPlainDisabled(t *testing.T) {
	c := newTestConn(stageNotAuthenticated, &Settings{}, &testRealm{allowPlain: false, mechanisms: []string{"plain"}})

	cap := c.capabilityString()
	require.Contains(t, cap, "LOGINDISABLED")
}

func TestCapabilityPreAuthStartTLSAdvertised(t *testing.T) {
	c := newTestConn(stageNotAuthenticated, &Settings{TLSConfig: &tls.Config{}}, &testRealm{allowPlain: true})

	cap := c.capabilityString()
	require.Contains(t, cap, "STARTTLS")
}

func TestCapabilityPostAuth(t *testing.T) {
	c := newTestConn(stageAuthenticated, &Settings{}, nil)

	cap := c.capabilityString()
	require.Contains(t, cap, "IDLE")
	require.Contains(t, cap, "NAMESPACE")
	require.Contains(t, cap, "QUOTA")
	require.Contains(t, cap, "MOVE")
	require.NotContains(t, cap, "AUTH=")
}
