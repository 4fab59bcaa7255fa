package imapserver

import (
	"net"
	"strings"
	"time"

	"github.com/fclairamb/protoserver/catalog"
)

// idleTimeout is the Open Question resolution recorded in DESIGN.md: an
// IDLE command left unterminated for 30 minutes is closed by the server
// with "* BYE idle timeout" rather than left open indefinitely.
const idleTimeout = 30 * time.Minute

// cmdIdle implements RFC 2177. The command blocks the session's single
// read loop until the client sends "DONE" or the idle timeout elapses;
// no concurrent mailbox-update push is modeled since this reference
// engine has no background event source to drive one.
func (c *Conn) cmdIdle(tag, _ string) {
	c.mu.Lock()
	c.idling = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.idling = false
		c.mu.Unlock()
	}()

	c.writeContinuation("idling")

	if err := c.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
		c.logger.Error("network error", err)
	}

	line, err := c.readLine()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.writeUntagged("BYE " + catalog.Default.Format("idle.timeout"))
			c.disconnect()

			return
		}

		c.handleStreamError(err)

		return
	}

	if !strings.EqualFold(strings.TrimSpace(line), "DONE") {
		c.writeTagged(tag, "BAD", "expected DONE")

		return
	}

	c.writeTagged(tag, "OK", "IDLE terminated")
}
