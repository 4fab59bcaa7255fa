package imapserver

import (
	"fmt"
	"strconv"
	"strings"
)

// writeQuotaResponse renders one RFC 2087 "* QUOTA" untagged response.
func (c *Conn) writeQuotaResponse(state *QuotaState) {
	c.writeUntagged(fmt.Sprintf(`QUOTA "%s" (STORAGE %d %d)`, state.root, state.usedBytes/1024, state.limitBytes/1024))
}

func (c *Conn) cmdGetQuota(tag, args string) {
	root := unquote(strings.TrimSpace(args))

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &QuotaState{}
	h.GetQuota(root, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "GETQUOTA completed")

		return
	}

	c.writeQuotaResponse(state)
	c.applyQuotaHandler(state.handler)
	c.writeTagged(tag, "OK", "GETQUOTA completed")
}

func (c *Conn) cmdGetQuotaRoot(tag, args string) {
	mailbox := unquote(strings.TrimSpace(args))

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &QuotaState{}
	h.GetQuotaRoot(mailbox, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "GETQUOTAROOT completed")

		return
	}

	c.writeUntagged(fmt.Sprintf(`QUOTAROOT "%s" "%s"`, mailbox, state.root))
	c.writeQuotaResponse(state)
	c.applyQuotaHandler(state.handler)
	c.writeTagged(tag, "OK", "GETQUOTAROOT completed")
}

func (c *Conn) cmdSetQuota(tag, args string) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "SETQUOTA requires a root and a resource list")

		return
	}

	root := unquote(tokens[0])

	resources := parenItems(tokens[1])
	if len(resources) != 2 || !strings.EqualFold(resources[0], "STORAGE") {
		c.writeTagged(tag, "BAD", "only the STORAGE resource is supported")

		return
	}

	limitKiB, err := strconv.ParseInt(resources[1], 10, 64)
	if err != nil {
		c.writeTagged(tag, "BAD", "quota limit must be an integer")

		return
	}

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &QuotaState{}
	h.SetQuota(root, limitKiB*1024, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "SETQUOTA completed")

		return
	}

	c.writeQuotaResponse(state)
	c.applyQuotaHandler(state.handler)
	c.writeTagged(tag, "OK", "SETQUOTA completed")
}

func (c *Conn) applyQuotaHandler(h AuthenticatedHandler) {
	if h == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage == stageSelected {
		if sh, ok := h.(SelectedHandler); ok {
			c.selected = sh

			return
		}
	}

	c.auth = h
}
