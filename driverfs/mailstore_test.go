package driverfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchMailboxPattern(t *testing.T) {
	require.True(t, matchMailboxPattern("*", "INBOX/Sent"))
	require.True(t, matchMailboxPattern("INBOX*", "INBOX/Sent"))
	require.False(t, matchMailboxPattern("INBOX%", "INBOX/Sent"))
	require.True(t, matchMailboxPattern("INBOX%", "INBOX.Drafts"))
	require.True(t, matchMailboxPattern("INBOX", "INBOX"))
	require.False(t, matchMailboxPattern("INBOX", "inbox"))
}

func TestNewMailboxAssignsIncreasingUIDValidity(t *testing.T) {
	a := newMailbox()
	b := newMailbox()

	require.Less(t, a.uidValidity, b.uidValidity)
	require.EqualValues(t, 1, a.uidNext)
}

func TestUserMailboxesStartsWithInbox(t *testing.T) {
	d := New(t.TempDir(), nil)

	boxes := d.userMailboxes("alice")
	_, ok := boxes["INBOX"]
	require.True(t, ok)

	// calling it again for the same user must return the same map, not
	// reset the mailbox the user already has.
	boxes["Archive"] = newMailbox()
	again := d.userMailboxes("alice")
	_, ok = again["Archive"]
	require.True(t, ok)
}
