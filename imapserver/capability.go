package imapserver

import "strings"

// commonSuffix is advertised regardless of connection state.
const commonSuffix = "UNSELECT UIDPLUS CHILDREN LIST-EXTENDED LIST-STATUS"

// capabilityString composes the CAPABILITY response per RFC 9051 §6.1.1,
// varying with authentication state and transport security.
func (c *Conn) capabilityString() string {
	tokens := []string{"IMAP4rev2"}
	tokens = append(tokens, strings.Fields(commonSuffix)...)

	c.mu.Lock()
	stage := c.stage
	c.mu.Unlock()

	secure := c.HasTLS()

	if stage == stageNotAuthenticated {
		if c.server.settings.TLSConfig != nil && !secure {
			tokens = append(tokens, "STARTTLS")
		}

		if c.server.realm != nil {
			if !secure && !c.server.realm.AllowPlaintextLogin() {
				tokens = append(tokens, "LOGINDISABLED")
			}

			for _, mech := range c.server.realm.Mechanisms() {
				tokens = append(tokens, "AUTH="+strings.ToUpper(mech))
			}
		}

		return strings.Join(tokens, " ")
	}

	tokens = append(tokens, "IDLE", "NAMESPACE", "QUOTA", "MOVE")

	return strings.Join(tokens, " ")
}
