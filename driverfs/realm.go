package driverfs

import (
	"fmt"

	"github.com/fclairamb/protoserver/imapserver"
)

// --- imapserver.Realm ---

// VerifyPlain implements imapserver.Realm.
func (d *Driver) VerifyPlain(username, password string) (string, bool) {
	account, ok := d.account(username)
	if !ok || account.Password != password {
		return "", false
	}

	return account.User, true
}

// AllowPlaintextLogin implements imapserver.Realm.
func (d *Driver) AllowPlaintextLogin() bool { return d.AllowPlainAuth }

// Mechanisms implements imapserver.Realm.
func (d *Driver) Mechanisms() []string { return []string{"PLAIN"} }

// --- imapserver.ClientConnectedHandler ---

// Connected implements imapserver.ClientConnectedHandler.
func (d *Driver) Connected(_ *imapserver.Conn, state *imapserver.ConnectedState) {
	state.AcceptConnection("protoserver IMAP4rev2 server ready", &notAuthHandler{driver: d})
}

// notAuthHandler is the NOT_AUTH-stage handler: by the time Authenticate
// is invoked the realm has already verified the credentials (LOGIN) or
// SASL exchange (AUTHENTICATE), so this only needs to resolve the
// principal into a mailbox-store session.
type notAuthHandler struct {
	driver *Driver
}

// Authenticate implements imapserver.NotAuthenticatedHandler.
func (h *notAuthHandler) Authenticate(principal, _ string, state *imapserver.AuthenticateState) {
	if _, ok := h.driver.account(principal); !ok {
		state.Reject(fmt.Sprintf("no such account %q", principal), h)

		return
	}

	state.Accept(&authSession{user: principal, driver: h.driver})
}
