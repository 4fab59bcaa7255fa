package imapserver

import (
	"fmt"
	"strconv"
	"strings"
)

// cmdAppend implements RFC 9051 §6.3.11: "APPEND mailbox [(flags)]
// [date-time] {size[+]}" followed by exactly size bytes of message
// literal. AppendDataHandler receives the literal as a single chunk,
// since the whole thing is already buffered off the wire by readLiteral.
func (c *Conn) cmdAppend(tag, args string) {
	mailbox, flags, size, err := parseAppendArgs(args)
	if err != nil {
		c.writeTagged(tag, "BAD", err.Error())

		return
	}

	h := c.currentAuthHandler()
	if h == nil {
		c.writeTagged(tag, "NO", "not authenticated")

		return
	}

	state := &AppendState{}
	h.Append(mailbox, flags, size, state)

	if state.kind != transitionOK {
		c.writeTransition(tag, &state.transition, "APPEND completed")

		return
	}

	c.writeContinuation("Ready for literal data")

	data, err := c.readLiteral(size)
	if err != nil {
		c.writeTagged(tag, "NO", "error reading literal: "+err.Error())

		return
	}

	// consume the CRLF that follows the literal before the next command.
	if _, err := c.readLine(); err != nil {
		c.handleStreamError(err)

		return
	}

	handler := state.handler

	if err := handler.AppendData(mailbox, data); err != nil {
		c.writeTagged(tag, "NO", "APPEND failed: "+err.Error())

		return
	}

	completeState := &AppendCompleteState{}
	handler.AppendComplete(mailbox, completeState)

	if completeState.kind == transitionOK {
		c.applyQuotaHandler(completeState.handler)
	}

	c.writeTransition(tag, &completeState.transition, "APPEND completed")
}

// parseAppendArgs splits "mailbox [(flags)] [date-time] {size}" into its
// parts. The date-time argument, if present, is accepted but not surfaced
// (no handler in this engine needs the client-supplied INTERNALDATE).
// Non-synchronizing literals ({size+}) aren't advertised in CAPABILITY, so
// a "+" suffix is rejected rather than honored.
func parseAppendArgs(args string) (mailbox string, flags []string, size int64, err error) {
	tokens := tokenize(args)
	if len(tokens) < 2 {
		return "", nil, 0, fmt.Errorf("APPEND requires a mailbox and a literal size")
	}

	mailbox = unquote(tokens[0])
	literalTok := tokens[len(tokens)-1]

	middle := tokens[1 : len(tokens)-1]
	for _, tok := range middle {
		if strings.HasPrefix(tok, "(") {
			flags = parenItems(tok)
		}
	}

	if !strings.HasPrefix(literalTok, "{") || !strings.HasSuffix(literalTok, "}") {
		return "", nil, 0, fmt.Errorf("APPEND requires a literal size like {123}")
	}

	spec := literalTok[1 : len(literalTok)-1]
	if strings.HasSuffix(spec, "+") {
		return "", nil, 0, fmt.Errorf("non-synchronizing literals are not supported")
	}

	size, errParse := strconv.ParseInt(spec, 10, 64)
	if errParse != nil {
		return "", nil, 0, fmt.Errorf("invalid literal size %q", literalTok)
	}

	return mailbox, flags, size, nil
}
