package imapserver

import (
	"encoding/base64"
	"fmt"
	"strings"

	sasl "github.com/emersion/go-sasl"
)

// Realm resolves plaintext LOGIN credentials and SASL mechanisms into an
// authenticated principal before the session hands control to
// NotAuthenticatedHandler.Authenticate. It is the one piece of credential
// verification the staged handlers never see directly.
type Realm interface {
	// VerifyPlain checks a username/password pair, as used by LOGIN and
	// the PLAIN SASL mechanism.
	VerifyPlain(username, password string) (principal string, ok bool)
	// AllowPlaintextLogin reports whether LOGIN (and AUTH=PLAIN over an
	// unencrypted connection) is permitted at all.
	AllowPlaintextLogin() bool
	// Mechanisms lists the SASL mechanism names advertised via AUTH=<mech>
	// in CAPABILITY.
	Mechanisms() []string
}

// newSASLServer builds the go-sasl server side for mechanism, deferring
// credential verification to realm. On success *principal holds the
// identity VerifyPlain returned.
func newSASLServer(realm Realm, mechanism string, principal *string) (sasl.Server, error) {
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		return sasl.NewPlainServer(func(identity, username, password string) error {
			p, ok := realm.VerifyPlain(username, password)
			if !ok {
				return fmt.Errorf("invalid credentials")
			}

			*principal = p

			return nil
		}), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", mechanism)
	}
}

func supportsMechanism(realm Realm, mechanism string) bool {
	for _, m := range realm.Mechanisms() {
		if strings.EqualFold(m, mechanism) {
			return true
		}
	}

	return false
}

// decodeSASLContinuation decodes one base64-encoded SASL continuation
// line (RFC 9051 §6.2.2); a bare "*" cancels the exchange.
func decodeSASLContinuation(line string) []byte {
	line = strings.TrimSpace(line)
	if line == "*" {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil
	}

	return data
}
