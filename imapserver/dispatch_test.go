package imapserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens := tokenize(`INBOX (\Seen \Flagged) "29-Jul-2026 00:00:00 +0000" {12+}`)
	require.Equal(t, []string{
		"INBOX",
		`(\Seen \Flagged)`,
		`"29-Jul-2026 00:00:00 +0000"`,
		"{12+}",
	}, tokens)
}

func TestTokenizeQuotedSpaces(t *testing.T) {
	tokens := tokenize(`"My Mailbox" other`)
	require.Equal(t, []string{`"My Mailbox"`, "other"}, tokens)
}

func TestUnquote(t *testing.T) {
	require.Equal(t, "My Mailbox", unquote(`"My Mailbox"`))
	require.Equal(t, "INBOX", unquote("INBOX"))
}

func TestParenItems(t *testing.T) {
	require.Equal(t, []string{"FLAGGED", "SEEN"}, parenItems("(FLAGGED SEEN)"))
	require.Nil(t, parenItems("()"))
}

func TestParseAppendArgsSynchronizing(t *testing.T) {
	mailbox, flags, size, err := parseAppendArgs(`INBOX (\Seen) {5}`)
	require.NoError(t, err)
	require.Equal(t, "INBOX", mailbox)
	require.Equal(t, []string{`\Seen`}, flags)
	require.Equal(t, int64(5), size)
}

func TestParseAppendArgsRejectsNonSynchronizing(t *testing.T) {
	_, _, _, err := parseAppendArgs(`"Sent Items" {128+}`)
	require.Error(t, err)
}

func TestParseAppendArgsRejectsMissingLiteral(t *testing.T) {
	_, _, _, err := parseAppendArgs("INBOX")
	require.Error(t, err)
}

func TestParseSequenceSet(t *testing.T) {
	set, err := parseSequenceSet("1:5,9")
	require.NoError(t, err)
	require.True(t, set.Contains(3))
	require.True(t, set.Contains(9))
	require.False(t, set.Contains(6))
}

func TestParseSequenceSetInvalid(t *testing.T) {
	_, err := parseSequenceSet("not-a-set!!")
	require.Error(t, err)
}
