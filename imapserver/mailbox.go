package imapserver

import (
	"fmt"
	"strings"
)

// currentAuthHandler returns whichever handler currently answers
// AuthenticatedHandler methods: the SelectedHandler when a mailbox is
// open (it embeds AuthenticatedHandler), else the plain AuthenticatedHandler.
func (c *Conn) currentAuthHandler() AuthenticatedHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage == stageSelected && c.selected != nil {
		return c.selected
	}

	return c.auth
}

func (c *Conn) cmdSelect(tag, args string) { c.selectOrExamine(tag, args, false) }

func (c *Conn) cmdExamine(tag, args string) { c.selectOrExamine(tag, args, true) }

func (c *Conn) selectOrExamine(tag, args string, readOnly bool) {
	mailbox := unquote(strings.TrimSpace(args))
	if mailbox == "" {
		c.writeTagged(tag, "BAD", "mailbox name required")

		return
	}

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &SelectState{}
	h.Select(mailbox, readOnly, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "SELECT completed")

		return
	}

	c.writeUntagged(fmt.Sprintf("%d EXISTS", state.exists))
	c.writeUntagged(fmt.Sprintf("%d RECENT", state.recent))
	c.writeUntagged("FLAGS (" + strings.Join(state.flags, " ") + ")")
	c.writeUntagged(fmt.Sprintf("OK [UIDVALIDITY %d] UIDs valid", state.uidValidity))
	c.writeUntagged(fmt.Sprintf("OK [UIDNEXT %d] predicted next UID", state.uidNext))

	c.mu.Lock()
	c.stage = stageSelected
	c.selected = state.handler
	c.mailbox = mailbox
	c.readOnly = readOnly
	c.mu.Unlock()

	code := "READ-WRITE"
	if readOnly {
		code = "READ-ONLY"
	}

	c.writeTagged(tag, "OK", fmt.Sprintf("[%s] %s completed", code, upperCmd(readOnly)))
}

func upperCmd(readOnly bool) string {
	if readOnly {
		return "EXAMINE"
	}

	return "SELECT"
}

func (c *Conn) cmdCreate(tag, args string) {
	mailbox := unquote(strings.TrimSpace(args))

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &CreateState{}
	h.Create(mailbox, state)
	c.applyAuthTransition(tag, &state.transition, state.handler, "CREATE completed")
}

func (c *Conn) cmdDelete(tag, args string) {
	mailbox := unquote(strings.TrimSpace(args))

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &DeleteState{}
	h.Delete(mailbox, state)
	c.applyAuthTransition(tag, &state.transition, state.handler, "DELETE completed")
}

func (c *Conn) cmdRename(tag, args string) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "RENAME requires two mailbox names")

		return
	}

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &RenameState{}
	h.Rename(unquote(tokens[0]), unquote(tokens[1]), state)
	c.applyAuthTransition(tag, &state.transition, state.handler, "RENAME completed")
}

func (c *Conn) cmdSubscribe(tag, args string)   { c.subscribeOp(tag, args, false) }
func (c *Conn) cmdUnsubscribe(tag, args string) { c.subscribeOp(tag, args, true) }

func (c *Conn) subscribeOp(tag, args string, unsubscribe bool) {
	mailbox := unquote(strings.TrimSpace(args))

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &SubscribeState{}
	if unsubscribe {
		h.Unsubscribe(mailbox, state)
		c.applyAuthTransition(tag, &state.transition, state.handler, "UNSUBSCRIBE completed")
	} else {
		h.Subscribe(mailbox, state)
		c.applyAuthTransition(tag, &state.transition, state.handler, "SUBSCRIBE completed")
	}
}

func (c *Conn) cmdList(tag, args string) { c.listOp(tag, args, false) }
func (c *Conn) cmdLsub(tag, args string) { c.listOp(tag, args, true) }

func (c *Conn) listOp(tag, args string, lsub bool) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "LIST requires a reference and a pattern")

		return
	}

	reference, pattern := unquote(tokens[0]), unquote(tokens[1])

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &ListState{}
	name := "LIST"

	if lsub {
		name = "LSUB"
		h.Lsub(reference, pattern, state)
	} else {
		h.List(reference, pattern, state)
	}

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, name+" completed")

		return
	}

	for _, m := range state.mailboxes {
		attrs := strings.Join(m.Attributes, " ")
		c.writeUntagged(fmt.Sprintf(`%s (%s) "%s" "%s"`, name, attrs, m.Delimiter, m.Name))
	}

	c.mu.Lock()
	if state.handler != nil {
		c.auth = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", name+" completed")
}

func (c *Conn) cmdStatus(tag, args string) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "STATUS requires a mailbox and an item list")

		return
	}

	mailbox := unquote(tokens[0])
	items := parseStatusItems(tokens[1])

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &AuthenticatedStatusState{}
	h.Status(mailbox, items, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "STATUS completed")

		return
	}

	var parts []string
	for _, item := range items {
		parts = append(parts, string(item), formatUint(state.values[item]))
	}

	c.writeUntagged(fmt.Sprintf(`STATUS "%s" (%s)`, mailbox, strings.Join(parts, " ")))

	c.mu.Lock()
	if state.handler != nil {
		c.auth = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", "STATUS completed")
}

func parseStatusItems(group string) []StatusItem {
	var items []StatusItem
	for _, tok := range parenItems(group) {
		items = append(items, StatusItem(strings.ToUpper(tok)))
	}

	return items
}

// applyAuthTransition applies a transition whose positive outcome carries
// the next AuthenticatedHandler, common to CREATE/DELETE/RENAME/SUBSCRIBE.
func (c *Conn) applyAuthTransition(tag string, t *transition, next AuthenticatedHandler, okText string) {
	if t.kind == transitionOK && next != nil {
		c.mu.Lock()
		c.auth = next
		c.mu.Unlock()
	}

	c.writeTransition(tag, t, okText)
}

func (c *Conn) cmdNamespace(tag, _ string) {
	c.writeUntagged(`NAMESPACE (("" "/")) NIL NIL`)
	c.writeTagged(tag, "OK", "NAMESPACE completed")
}
