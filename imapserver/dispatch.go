package imapserver

import (
	"fmt"
	"strconv"
	"strings"
)

// commandDescription is one verb's dispatch rule: which stage(s) it is
// legal in, and the function that runs it.
type commandDescription struct {
	notAuth   bool // legal before LOGIN/AUTHENTICATE
	auth      bool // legal once authenticated (AUTH or SELECTED)
	selected  bool // legal only with a mailbox selected
	Fn        func(c *Conn, tag, args string)
}

var commandsMap = map[string]*commandDescription{ //nolint:gochecknoglobals
	"CAPABILITY":   {notAuth: true, auth: true, selected: true, Fn: (*Conn).cmdCapability},
	"NOOP":         {notAuth: true, auth: true, selected: true, Fn: (*Conn).cmdNoop},
	"LOGOUT":       {notAuth: true, auth: true, selected: true, Fn: (*Conn).cmdLogout},
	"ID":           {notAuth: true, auth: true, selected: true, Fn: (*Conn).cmdID},
	"STARTTLS":     {notAuth: true, Fn: (*Conn).cmdStartTLS},
	"LOGIN":        {notAuth: true, Fn: (*Conn).cmdLogin},
	"AUTHENTICATE": {notAuth: true, Fn: (*Conn).cmdAuthenticate},

	"NAMESPACE": {auth: true, selected: true, Fn: (*Conn).cmdNamespace},
	"IDLE":      {auth: true, selected: true, Fn: (*Conn).cmdIdle},

	"SELECT":      {auth: true, selected: true, Fn: (*Conn).cmdSelect},
	"EXAMINE":     {auth: true, selected: true, Fn: (*Conn).cmdExamine},
	"CREATE":      {auth: true, selected: true, Fn: (*Conn).cmdCreate},
	"DELETE":      {auth: true, selected: true, Fn: (*Conn).cmdDelete},
	"RENAME":      {auth: true, selected: true, Fn: (*Conn).cmdRename},
	"SUBSCRIBE":   {auth: true, selected: true, Fn: (*Conn).cmdSubscribe},
	"UNSUBSCRIBE": {auth: true, selected: true, Fn: (*Conn).cmdUnsubscribe},
	"LIST":        {auth: true, selected: true, Fn: (*Conn).cmdList},
	"LSUB":        {auth: true, selected: true, Fn: (*Conn).cmdLsub},
	"STATUS":      {auth: true, selected: true, Fn: (*Conn).cmdStatus},
	"APPEND":      {auth: true, selected: true, Fn: (*Conn).cmdAppend},
	"GETQUOTA":     {auth: true, selected: true, Fn: (*Conn).cmdGetQuota},
	"GETQUOTAROOT": {auth: true, selected: true, Fn: (*Conn).cmdGetQuotaRoot},
	"SETQUOTA":     {auth: true, selected: true, Fn: (*Conn).cmdSetQuota},

	"CLOSE":     {selected: true, Fn: (*Conn).cmdClose},
	"UNSELECT":  {selected: true, Fn: (*Conn).cmdUnselect},
	"EXPUNGE":   {selected: true, Fn: (*Conn).cmdExpunge},
	"STORE":     {selected: true, Fn: (*Conn).cmdStore},
	"COPY":      {selected: true, Fn: (*Conn).cmdCopy},
	"MOVE":      {selected: true, Fn: (*Conn).cmdMove},
	"FETCH":     {selected: true, Fn: (*Conn).cmdFetch},
	"SEARCH":    {selected: true, Fn: (*Conn).cmdSearch},
	"UID":       {selected: true, Fn: (*Conn).cmdUID},
}

// dispatchLine parses one tagged command line and routes it, or sends a
// tagged BAD if the tag/command is malformed or the command doesn't exist
// in the current stage.
func (c *Conn) dispatchLine(line string) {
	tag, rest := splitFirstToken(line)
	if tag == "" {
		c.writeRaw("* BAD empty tag")

		return
	}

	command, args := splitFirstToken(rest)
	command = strings.ToUpper(command)

	desc := commandsMap[command]
	if desc == nil {
		c.writeTagged(tag, "BAD", fmt.Sprintf("%s unknown command", command))

		return
	}

	c.mu.Lock()
	stage := c.stage
	c.mu.Unlock()

	switch stage {
	case stageNotAuthenticated:
		if !desc.notAuth {
			c.writeTagged(tag, "BAD", fmt.Sprintf("%s not permitted before authentication", command))

			return
		}
	case stageAuthenticated:
		if !desc.auth {
			c.writeTagged(tag, "BAD", fmt.Sprintf("%s requires a selected mailbox", command))

			return
		}
	case stageSelected:
		if !desc.auth && !desc.selected {
			c.writeTagged(tag, "BAD", fmt.Sprintf("%s not permitted", command))

			return
		}
	}

	desc.Fn(c, tag, args)
}

func (c *Conn) cmdCapability(tag, _ string) {
	c.writeUntagged("CAPABILITY " + c.capabilityString())
	c.writeTagged(tag, "OK", "CAPABILITY completed")
}

func (c *Conn) cmdNoop(tag, _ string) {
	c.writeTagged(tag, "OK", "NOOP completed")
}

func (c *Conn) cmdLogout(tag, _ string) {
	c.writeUntagged("BYE logging out")
	c.writeTagged(tag, "OK", "LOGOUT completed")

	c.mu.Lock()
	c.stage = stageLogout
	c.mu.Unlock()
}

// cmdID implements RFC 2971 minimally: no client/server identification is
// exchanged, but the command itself must be acknowledged.
func (c *Conn) cmdID(tag, _ string) {
	c.writeUntagged("ID NIL")
	c.writeTagged(tag, "OK", "ID completed")
}

func (c *Conn) cmdStartTLS(tag, _ string) {
	if c.server.settings.TLSConfig == nil {
		c.writeTagged(tag, "BAD", "STARTTLS not available")

		return
	}

	if c.HasTLS() {
		c.writeTagged(tag, "BAD", "TLS already active")

		return
	}

	c.writeTagged(tag, "OK", "Begin TLS negotiation now")

	if err := c.StartTLS(c.server.settings.TLSConfig); err != nil {
		c.logger.Warn("STARTTLS failed", "err", err)
		c.mu.Lock()
		c.stage = stageLogout
		c.mu.Unlock()
	}
}

// cmdLogin implements RFC 9051 §6.2.3. Plaintext credentials are verified
// by the realm, then the resulting principal is handed to the current
// NotAuthenticatedHandler exactly once.
func (c *Conn) cmdLogin(tag, args string) {
	if c.server.realm == nil {
		c.writeTagged(tag, "NO", "LOGIN is not supported")

		return
	}

	if !c.server.realm.AllowPlaintextLogin() && !c.HasTLS() {
		c.writeTagged(tag, "BAD", "plaintext LOGIN disabled; use STARTTLS or AUTHENTICATE")

		return
	}

	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "LOGIN requires a username and a password")

		return
	}

	principal, ok := c.server.realm.VerifyPlain(unquote(tokens[0]), unquote(tokens[1]))
	if !ok {
		c.writeTagged(tag, "NO", "LOGIN failed")

		return
	}

	c.finishAuthenticate(tag, principal, "LOGIN")
}

// cmdAuthenticate implements RFC 9051 §6.2.2 for the mechanisms the realm
// advertises; only a single round-trip (no continuation challenges) is
// supported, which covers PLAIN.
func (c *Conn) cmdAuthenticate(tag, args string) {
	if c.server.realm == nil {
		c.writeTagged(tag, "NO", "AUTHENTICATE is not supported")

		return
	}

	mechanism, initial := splitFirstToken(args)
	mechanism = strings.ToUpper(mechanism)

	if !supportsMechanism(c.server.realm, mechanism) {
		c.writeTagged(tag, "NO", fmt.Sprintf("mechanism %s not supported", mechanism))

		return
	}

	var principal string

	srv, err := newSASLServer(c.server.realm, mechanism, &principal)
	if err != nil {
		c.writeTagged(tag, "NO", err.Error())

		return
	}

	response := decodeSASLContinuation(initial)
	if initial == "" {
		c.writeContinuation("")

		line, errRead := c.readLine()
		if errRead != nil {
			return
		}

		if strings.TrimSpace(line) == "*" {
			c.writeTagged(tag, "BAD", "AUTHENTICATE cancelled")

			return
		}

		response = decodeSASLContinuation(line)
	}

	if _, _, err := srv.Next(response); err != nil {
		c.writeTagged(tag, "NO", "authentication failed")

		return
	}

	c.finishAuthenticate(tag, principal, mechanism)
}

// finishAuthenticate invokes the current NotAuthenticatedHandler exactly
// once and applies the resulting transition: the session stays
// NOT_AUTH if the handler itself rejects the principal.
func (c *Conn) finishAuthenticate(tag, principal, mechanism string) {
	c.mu.Lock()
	notAuth := c.notAuth
	c.mu.Unlock()

	if notAuth == nil {
		c.writeTagged(tag, "NO", "authentication unavailable")

		return
	}

	state := &AuthenticateState{mechanism: mechanism}
	notAuth.Authenticate(principal, mechanism, state)

	switch state.kind {
	case transitionOK:
		c.mu.Lock()
		c.stage = stageAuthenticated
		c.auth = state.store
		c.principal = principal
		c.mu.Unlock()
		c.writeTagged(tag, "OK", orDefault(state.msg, mechanism+" completed"))
	case transitionShuttingDown:
		c.writeUntagged("BYE server shutting down")
		c.writeTagged(tag, "BAD", "server shutting down")
	case transitionBad:
		c.writeTagged(tag, "NO", orDefault(state.msg, mechanism+" failed"))
		c.mu.Lock()
		c.stage = stageLogout
		c.mu.Unlock()
	default:
		c.mu.Lock()
		if state.notAuth != nil {
			c.notAuth = state.notAuth
		}
		c.mu.Unlock()
		c.writeTagged(tag, "NO", orDefault(state.msg, mechanism+" failed"))
	}
}

// splitFirstToken splits on the first run of whitespace, returning ("",
// "") for an empty string.
func splitFirstToken(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return "", ""
	}

	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}

	return s[:idx], strings.TrimLeft(s[idx+1:], " ")
}

// tokenize splits an argument string into top-level tokens, treating a
// double-quoted string or a balanced parenthesized group as one token.
func tokenize(s string) []string {
	var tokens []string

	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}

		if i >= len(s) {
			break
		}

		start := i

		switch s[i] {
		case '"':
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				i++
			}

			if i < len(s) {
				i++
			}
		case '(':
			depth := 1
			i++
			for i < len(s) && depth > 0 {
				switch s[i] {
				case '(':
					depth++
				case ')':
					depth--
				}
				i++
			}
		default:
			for i < len(s) && s[i] != ' ' {
				i++
			}
		}

		tokens = append(tokens, s[start:i])
	}

	return tokens
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return strings.ReplaceAll(tok[1:len(tok)-1], `\"`, `"`)
	}

	return tok
}

func parenItems(tok string) []string {
	tok = strings.TrimPrefix(tok, "(")
	tok = strings.TrimSuffix(tok, ")")

	return tokenize(tok)
}

func parseNumber(tok string) (uint32, error) {
	v, err := strconv.ParseUint(tok, 10, 32)

	return uint32(v), err
}
