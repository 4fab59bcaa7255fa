package imapserver

import (
	"fmt"
	"strings"
)

func (c *Conn) currentSelectedHandler() SelectedHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selected
}

func (c *Conn) returnToAuthenticated(next AuthenticatedHandler) {
	c.mu.Lock()
	c.stage = stageAuthenticated
	c.selected = nil
	c.mailbox = ""
	c.auth = next
	c.mu.Unlock()
}

func (c *Conn) cmdClose(tag, _ string) {
	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &CloseState{}
	h.Close(state)

	if state.kind == transitionOK {
		c.returnToAuthenticated(state.handler)
	}

	c.writeTransition(tag, &state.transition, "CLOSE completed")
}

func (c *Conn) cmdUnselect(tag, _ string) {
	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &CloseState{}
	h.Unselect(state)

	if state.kind == transitionOK {
		c.returnToAuthenticated(state.handler)
	}

	c.writeTransition(tag, &state.transition, "UNSELECT completed")
}

func (c *Conn) cmdExpunge(tag, args string) { c.expungeOp(tag, args, false) }

func (c *Conn) expungeOp(tag, args string, uid bool) {
	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	var set *SequenceSet

	if uid && args != "" {
		var err error

		set, err = parseSequenceSet(args)
		if err != nil {
			c.writeTagged(tag, "BAD", err.Error())

			return
		}
	}

	state := &ExpungeState{}
	h.Expunge(set, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "EXPUNGE completed")

		return
	}

	for _, seq := range state.expunged {
		c.writeUntagged(fmt.Sprintf("%d EXPUNGE", seq))
	}

	c.mu.Lock()
	if state.handler != nil {
		c.selected = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", "EXPUNGE completed")
}

func (c *Conn) cmdStore(tag, args string) { c.storeOp(tag, args, false) }

func (c *Conn) storeOp(tag, args string, uid bool) {
	tokens := tokenize(args)
	if len(tokens) < 2 {
		c.writeTagged(tag, "BAD", "STORE requires a sequence set and a data item")

		return
	}

	set, err := parseSequenceSet(tokens[0])
	if err != nil {
		c.writeTagged(tag, "BAD", err.Error())

		return
	}

	opToken := strings.ToUpper(tokens[1])
	silent := strings.HasSuffix(opToken, ".SILENT")
	opToken = strings.TrimSuffix(opToken, ".SILENT")

	var op StoreOp

	switch opToken {
	case "FLAGS":
		op = StoreSetFlags
	case "+FLAGS":
		op = StoreAddFlags
	case "-FLAGS":
		op = StoreRemoveFlags
	default:
		c.writeTagged(tag, "BAD", "unknown STORE data item "+tokens[1])

		return
	}

	var flags []string
	if len(tokens) > 2 {
		flags = parenItems(strings.Join(tokens[2:], " "))
	}

	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &StoreState{}
	h.Store(set, uid, op, flags, silent, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "STORE completed")

		return
	}

	if !silent {
		for _, r := range state.updates {
			c.writeUntagged(fmt.Sprintf("%d FETCH (%s)", r.Seq, formatFetchItems(r.Items)))
		}
	}

	c.mu.Lock()
	if state.handler != nil {
		c.selected = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", "STORE completed")
}

func (c *Conn) cmdCopy(tag, args string) { c.copyOp(tag, args, false) }

func (c *Conn) copyOp(tag, args string, uid bool) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "COPY requires a sequence set and a destination")

		return
	}

	set, err := parseSequenceSet(tokens[0])
	if err != nil {
		c.writeTagged(tag, "BAD", err.Error())

		return
	}

	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &CopyState{}
	h.Copy(set, uid, unquote(tokens[1]), state)

	c.mu.Lock()
	if state.kind == transitionOK && state.handler != nil {
		c.selected = state.handler
	}
	c.mu.Unlock()

	c.writeTransition(tag, &state.transition, "COPY completed")
}

func (c *Conn) cmdMove(tag, args string) { c.moveOp(tag, args, false) }

func (c *Conn) moveOp(tag, args string, uid bool) {
	tokens := tokenize(args)
	if len(tokens) != 2 {
		c.writeTagged(tag, "BAD", "MOVE requires a sequence set and a destination")

		return
	}

	set, err := parseSequenceSet(tokens[0])
	if err != nil {
		c.writeTagged(tag, "BAD", err.Error())

		return
	}

	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &MoveState{}
	h.Move(set, uid, unquote(tokens[1]), state)

	if state.kind == transitionOK && state.handler != nil {
		c.mu.Lock()
		c.selected = state.handler
		c.mu.Unlock()
	}

	c.writeTransition(tag, &state.transition, "MOVE completed")
}

func (c *Conn) cmdFetch(tag, args string) { c.fetchOp(tag, args, false) }

func (c *Conn) fetchOp(tag, args string, uid bool) {
	tokens := tokenize(args)
	if len(tokens) < 2 {
		c.writeTagged(tag, "BAD", "FETCH requires a sequence set and an item list")

		return
	}

	set, err := parseSequenceSet(tokens[0])
	if err != nil {
		c.writeTagged(tag, "BAD", err.Error())

		return
	}

	itemGroup := strings.Join(tokens[1:], " ")

	var items []string
	if strings.HasPrefix(itemGroup, "(") {
		items = parenItems(itemGroup)
	} else {
		items = []string{strings.ToUpper(itemGroup)}
	}

	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &FetchState{}
	h.Fetch(set, uid, items, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "FETCH completed")

		return
	}

	for _, r := range state.results {
		c.writeUntagged(fmt.Sprintf("%d FETCH (%s)", r.Seq, formatFetchItems(r.Items)))
	}

	c.mu.Lock()
	if state.handler != nil {
		c.selected = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", "FETCH completed")
}

func formatFetchItems(items map[string]string) string {
	var parts []string
	for name, value := range items {
		parts = append(parts, name+" "+value)
	}

	return strings.Join(parts, " ")
}

func (c *Conn) cmdSearch(tag, args string) { c.searchOp(tag, args, false) }

func (c *Conn) searchOp(tag, args string, uid bool) {
	if args == "" {
		c.writeTagged(tag, "BAD", "SEARCH requires search criteria")

		return
	}

	h := c.currentSelectedHandler()
	if h == nil {
		c.writeTagged(tag, "BAD", "no mailbox selected")

		return
	}

	state := &SearchState{}
	h.Search(uid, args, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "SEARCH completed")

		return
	}

	var nums []string
	for _, n := range state.matches {
		nums = append(nums, formatUint(n))
	}

	c.writeUntagged("SEARCH " + strings.Join(nums, " "))

	c.mu.Lock()
	if state.handler != nil {
		c.selected = state.handler
	}
	c.mu.Unlock()

	c.writeTagged(tag, "OK", "SEARCH completed")
}

// cmdUID implements the RFC 9051 §6.4.8 "UID command" prefix: it
// re-dispatches COPY/MOVE/FETCH/STORE/EXPUNGE/SEARCH with uid=true.
func (c *Conn) cmdUID(tag, args string) {
	sub, rest := splitFirstToken(args)
	sub = strings.ToUpper(sub)

	switch sub {
	case "COPY":
		c.copyOp(tag, rest, true)
	case "MOVE":
		c.moveOp(tag, rest, true)
	case "FETCH":
		c.fetchOp(tag, rest, true)
	case "STORE":
		c.storeOp(tag, rest, true)
	case "EXPUNGE":
		c.expungeOp(tag, rest, true)
	case "SEARCH":
		c.searchOp(tag, rest, true)
	default:
		c.writeTagged(tag, "BAD", "UID "+sub+" not supported")
	}
}
