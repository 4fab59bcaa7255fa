package driverfs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fclairamb/protoserver/imapserver"
)

// message is one stored IMAP message.
type message struct {
	uid          uint32
	flags        map[string]bool
	data         []byte
	internalDate time.Time
}

func (m *message) flagList() []string {
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}

	sort.Strings(out)

	return out
}

// mailbox is one user's folder: an ordered, append-only (until EXPUNGE)
// list of messages plus the UID bookkeeping RFC 9051 §2.3.1.1 requires.
type mailbox struct {
	uidValidity uint32
	uidNext     uint32
	messages    []*message
	subscribed  bool
}

var uidValidityCounter uint32 //nolint:gochecknoglobals

func newMailbox() *mailbox {
	return &mailbox{
		uidValidity: atomic.AddUint32(&uidValidityCounter, 1),
		uidNext:     1,
	}
}

func (d *Driver) userMailboxes(user string) map[string]*mailbox {
	d.mailboxesMu.Lock()
	defer d.mailboxesMu.Unlock()

	boxes, ok := d.mailboxes[user]
	if !ok {
		boxes = map[string]*mailbox{"INBOX": newMailbox()}
		d.mailboxes[user] = boxes
	}

	return boxes
}

func (d *Driver) getMailbox(user, name string) (*mailbox, bool) {
	d.mailboxesMu.Lock()
	defer d.mailboxesMu.Unlock()

	boxes := d.mailboxes[user]
	if boxes == nil {
		return nil, false
	}

	mb, ok := boxes[name]

	return mb, ok
}

// authSession is the AUTH-stage AuthenticatedHandler: one per logged-in
// user, shared across SELECT/EXAMINE transitions.
type authSession struct {
	user   string
	driver *Driver
}

func (s *authSession) Select(mailbox string, readOnly bool, state *imapserver.SelectState) {
	boxes := s.driver.userMailboxes(s.user)

	mb, ok := boxes[mailbox]
	if !ok {
		state.MailboxNotFound(fmt.Sprintf("mailbox %q does not exist", mailbox))

		return
	}

	var recent uint32

	flagSet := map[string]bool{}

	for _, m := range mb.messages {
		for f := range m.flags {
			flagSet[f] = true
		}

		if m.flags["\\Recent"] {
			recent++
		}
	}

	flags := []string{"\\Seen", "\\Answered", "\\Flagged", "\\Deleted", "\\Draft"}

	sel := &selectedSession{authSession: s, mailboxName: mailbox}
	state.SelectOk(uint32(len(mb.messages)), recent, mb.uidValidity, mb.uidNext, flags, sel)
	_ = readOnly
}

func (s *authSession) Create(mailbox string, state *imapserver.CreateState) {
	boxes := s.driver.userMailboxes(s.user)

	if _, exists := boxes[mailbox]; exists {
		state.AlreadyExists(fmt.Sprintf("mailbox %q already exists", mailbox))

		return
	}

	s.driver.mailboxesMu.Lock()
	boxes[mailbox] = newMailbox()
	s.driver.mailboxesMu.Unlock()

	state.Ok(s)
}

func (s *authSession) Delete(mailbox string, state *imapserver.DeleteState) {
	if strings.EqualFold(mailbox, "INBOX") {
		state.No("INBOX cannot be deleted")

		return
	}

	boxes := s.driver.userMailboxes(s.user)

	if _, exists := boxes[mailbox]; !exists {
		state.No(fmt.Sprintf("mailbox %q does not exist", mailbox))

		return
	}

	s.driver.mailboxesMu.Lock()
	delete(boxes, mailbox)
	s.driver.mailboxesMu.Unlock()

	state.Ok(s)
}

func (s *authSession) Rename(existing, newName string, state *imapserver.RenameState) {
	boxes := s.driver.userMailboxes(s.user)

	s.driver.mailboxesMu.Lock()
	defer s.driver.mailboxesMu.Unlock()

	mb, ok := boxes[existing]
	if !ok {
		state.No(fmt.Sprintf("mailbox %q does not exist", existing))

		return
	}

	if strings.EqualFold(existing, "INBOX") {
		boxes[newName] = mb
		boxes["INBOX"] = newMailbox()
	} else {
		delete(boxes, existing)
		boxes[newName] = mb
	}

	state.Ok(s)
}

func (s *authSession) Subscribe(mailbox string, state *imapserver.SubscribeState) {
	s.setSubscribed(mailbox, true, state)
}

func (s *authSession) Unsubscribe(mailbox string, state *imapserver.SubscribeState) {
	s.setSubscribed(mailbox, false, state)
}

func (s *authSession) setSubscribed(mailbox string, value bool, state *imapserver.SubscribeState) {
	boxes := s.driver.userMailboxes(s.user)

	mb, ok := boxes[mailbox]
	if !ok {
		state.No(fmt.Sprintf("mailbox %q does not exist", mailbox))

		return
	}

	s.driver.mailboxesMu.Lock()
	mb.subscribed = value
	s.driver.mailboxesMu.Unlock()

	state.Ok(s)
}

func (s *authSession) List(reference, pattern string, state *imapserver.ListState) {
	s.listOp(reference, pattern, false, state)
}

func (s *authSession) Lsub(reference, pattern string, state *imapserver.ListState) {
	s.listOp(reference, pattern, true, state)
}

func (s *authSession) listOp(reference, pattern string, subscribedOnly bool, state *imapserver.ListState) {
	boxes := s.driver.userMailboxes(s.user)

	var names []string
	for name := range boxes {
		names = append(names, name)
	}

	sort.Strings(names)

	full := reference + pattern

	var out []imapserver.Mailbox

	for _, name := range names {
		if subscribedOnly && !boxes[name].subscribed {
			continue
		}

		if !matchMailboxPattern(full, name) {
			continue
		}

		out = append(out, imapserver.Mailbox{Name: name, Delimiter: "/"})
	}

	state.Ok(out, s)
}

func (s *authSession) Status(mailbox string, items []imapserver.StatusItem, state *imapserver.AuthenticatedStatusState) {
	mb, ok := s.driver.getMailbox(s.user, mailbox)
	if !ok {
		state.MailboxNotFound(fmt.Sprintf("mailbox %q does not exist", mailbox))

		return
	}

	values := map[imapserver.StatusItem]uint32{}

	for _, item := range items {
		switch item {
		case imapserver.StatusMessages:
			values[item] = uint32(len(mb.messages))
		case imapserver.StatusUIDNext:
			values[item] = mb.uidNext
		case imapserver.StatusUIDValidity:
			values[item] = mb.uidValidity
		case imapserver.StatusRecent:
			values[item] = countFlag(mb, "\\Recent")
		case imapserver.StatusUnseen:
			values[item] = uint32(len(mb.messages)) - countFlag(mb, "\\Seen")
		case imapserver.StatusDeleted:
			values[item] = countFlag(mb, "\\Deleted")
		case imapserver.StatusSize:
			values[item] = totalSize(mb)
		}
	}

	state.Ok(values, s)
}

func countFlag(mb *mailbox, flag string) uint32 {
	var n uint32

	for _, m := range mb.messages {
		if m.flags[flag] {
			n++
		}
	}

	return n
}

func totalSize(mb *mailbox) uint32 {
	var n uint32

	for _, m := range mb.messages {
		n += uint32(len(m.data))
	}

	return n
}

func (s *authSession) Append(mailbox string, flags []string, size int64, state *imapserver.AppendState) {
	boxes := s.driver.userMailboxes(s.user)

	mb, ok := boxes[mailbox]
	if !ok {
		state.TryCreate(fmt.Sprintf("mailbox %q does not exist", mailbox))

		return
	}

	if qm := s.driver.QuotaManager; qm != nil && !qm.CanStore(s.user, size) {
		state.No("storage quota exceeded")

		return
	}

	state.AcceptLiteral(size, flags, &appendTxn{session: s, mailbox: mb})
}

type appendTxn struct {
	session *authSession
	mailbox *mailbox
	data    []byte
	flags   []string
}

// AppendData implements imapserver.AppendDataHandler.
func (a *appendTxn) AppendData(_ string, chunk []byte) error {
	a.data = append(a.data, chunk...)

	return nil
}

// AppendComplete implements imapserver.AppendDataHandler.
func (a *appendTxn) AppendComplete(_ string, state *imapserver.AppendCompleteState) {
	if qm := a.session.driver.QuotaManager; qm != nil {
		if err := qm.Reserve(a.session.user, int64(len(a.data))); err != nil {
			state.No("storage quota exceeded")

			return
		}
	}

	a.session.driver.mailboxesMu.Lock()

	flagSet := map[string]bool{}
	for _, f := range a.flags {
		flagSet[f] = true
	}

	uid := a.mailbox.uidNext
	a.mailbox.uidNext++
	a.mailbox.messages = append(a.mailbox.messages, &message{
		uid:          uid,
		flags:        flagSet,
		data:         a.data,
		internalDate: time.Now().UTC(),
	})

	uidValidity := a.mailbox.uidValidity

	a.session.driver.mailboxesMu.Unlock()

	state.Ok(uidValidity, uid, a.session)
}

func (s *authSession) GetQuota(root string, state *imapserver.QuotaState) {
	s.reportQuota(root, state)
}

func (s *authSession) GetQuotaRoot(mailbox string, state *imapserver.QuotaState) {
	s.reportQuota(mailbox, state)
}

func (s *authSession) reportQuota(root string, state *imapserver.QuotaState) {
	qm := s.driver.QuotaManager
	if qm == nil {
		state.No("quota is not enabled")

		return
	}

	usage, err := qm.Usage(s.user)
	if err != nil {
		state.No(err.Error())

		return
	}

	state.Ok(root, usage.Used, usage.Limit, s)
}

func (s *authSession) SetQuota(root string, limitBytes int64, state *imapserver.QuotaState) {
	qm := s.driver.QuotaManager
	if qm == nil {
		state.No("quota is not enabled")

		return
	}

	if err := qm.SetLimit(s.user, limitBytes); err != nil {
		state.No(err.Error())

		return
	}

	state.Ok(root, 0, limitBytes, s)
}

// selectedSession layers the SELECTED-stage operations over authSession;
// every AuthenticatedHandler method is inherited by embedding.
type selectedSession struct {
	*authSession
	mailboxName string
}

func (s *selectedSession) box() *mailbox {
	mb, _ := s.driver.getMailbox(s.user, s.mailboxName)

	return mb
}

func (s *selectedSession) Close(state *imapserver.CloseState) {
	mb := s.box()
	if mb != nil {
		s.driver.mailboxesMu.Lock()
		expungeDeleted(mb)
		s.driver.mailboxesMu.Unlock()
	}

	state.Closed(s.authSession)
}

func (s *selectedSession) Unselect(state *imapserver.CloseState) {
	state.Closed(s.authSession)
}

func expungeDeleted(mb *mailbox) []uint32 {
	var expunged []uint32

	kept := mb.messages[:0]

	for i, m := range mb.messages {
		if m.flags["\\Deleted"] {
			expunged = append(expunged, uint32(i+1))

			continue
		}

		kept = append(kept, m)
	}

	mb.messages = kept

	return expunged
}

func (s *selectedSession) Expunge(uids *imapserver.SequenceSet, state *imapserver.ExpungeState) {
	mb := s.box()
	if mb == nil {
		state.No("mailbox no longer exists")

		return
	}

	s.driver.mailboxesMu.Lock()

	if uids != nil {
		for i := len(mb.messages) - 1; i >= 0; i-- {
			if !uids.Contains(mb.messages[i].uid) {
				mb.messages[i].flags["\\Deleted"] = false
			}
		}
	}

	expunged := expungeDeleted(mb)

	s.driver.mailboxesMu.Unlock()

	state.Ok(expunged, s)
}

func (s *selectedSession) Store(set *imapserver.SequenceSet, uid bool, op imapserver.StoreOp, flags []string, _ bool, state *imapserver.StoreState) {
	mb := s.box()
	if mb == nil {
		state.No("mailbox no longer exists")

		return
	}

	s.driver.mailboxesMu.Lock()

	var updates []imapserver.FetchResult

	for i, m := range mb.messages {
		key := m.uid
		if !uid {
			key = uint32(i + 1)
		}

		if !set.Contains(key) {
			continue
		}

		applyStore(m, op, flags)
		updates = append(updates, imapserver.FetchResult{
			Seq: uint32(i + 1),
			UID: m.uid,
			Items: map[string]string{
				"FLAGS": "(" + strings.Join(m.flagList(), " ") + ")",
			},
		})
	}

	s.driver.mailboxesMu.Unlock()

	state.Ok(updates, s)
}

func applyStore(m *message, op imapserver.StoreOp, flags []string) {
	switch op {
	case imapserver.StoreSetFlags:
		m.flags = map[string]bool{}

		for _, f := range flags {
			m.flags[f] = true
		}
	case imapserver.StoreAddFlags:
		for _, f := range flags {
			m.flags[f] = true
		}
	case imapserver.StoreRemoveFlags:
		for _, f := range flags {
			delete(m.flags, f)
		}
	}
}

func (s *selectedSession) Copy(set *imapserver.SequenceSet, uid bool, dest string, state *imapserver.CopyState) {
	result, tryCreate, msg := s.copyOrMove(set, uid, dest, false)
	switch {
	case result != nil:
		state.OkWithUID(result.destUIDValidity, result.sourceUIDs, result.destUIDs, s)
	case tryCreate:
		state.TryCreate(msg)
	default:
		state.No(msg)
	}
}

func (s *selectedSession) Move(set *imapserver.SequenceSet, uid bool, dest string, state *imapserver.MoveState) {
	result, tryCreate, msg := s.copyOrMove(set, uid, dest, true)
	switch {
	case result != nil:
		state.OkWithUID(result.destUIDValidity, result.sourceUIDs, result.destUIDs, s)
	case tryCreate:
		state.TryCreate(msg)
	default:
		state.No(msg)
	}
}

// copyMoveResult carries the COPYUID response-code ingredients back from
// copyOrMove: the destination mailbox's UIDVALIDITY and the matched
// messages' UIDs before and after the copy, in the same order.
type copyMoveResult struct {
	destUIDValidity uint32
	sourceUIDs      []uint32
	destUIDs        []uint32
}

// copyOrMove returns (result, tryCreate, message); tryCreate is set when
// the destination mailbox doesn't exist (RFC 9051's TRYCREATE response
// code). result is nil on failure.
func (s *selectedSession) copyOrMove(set *imapserver.SequenceSet, uid bool, dest string, remove bool) (*copyMoveResult, bool, string) {
	mb := s.box()
	if mb == nil {
		return nil, false, "mailbox no longer exists"
	}

	destBox, ok := s.driver.getMailbox(s.user, dest)
	if !ok {
		return nil, true, fmt.Sprintf("mailbox %q does not exist", dest)
	}

	s.driver.mailboxesMu.Lock()

	var kept []*message

	result := &copyMoveResult{destUIDValidity: destBox.uidValidity}

	for i, m := range mb.messages {
		key := m.uid
		if !uid {
			key = uint32(i + 1)
		}

		if set.Contains(key) {
			copied := &message{uid: destBox.uidNext, flags: cloneFlags(m.flags), data: m.data, internalDate: m.internalDate}
			result.sourceUIDs = append(result.sourceUIDs, m.uid)
			result.destUIDs = append(result.destUIDs, destBox.uidNext)
			destBox.uidNext++
			destBox.messages = append(destBox.messages, copied)

			if remove {
				continue
			}
		}

		kept = append(kept, m)
	}

	if remove {
		mb.messages = kept
	}

	s.driver.mailboxesMu.Unlock()

	return result, false, ""
}

func cloneFlags(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

func (s *selectedSession) Fetch(set *imapserver.SequenceSet, uid bool, items []string, state *imapserver.FetchState) {
	mb := s.box()
	if mb == nil {
		state.No("mailbox no longer exists")

		return
	}

	var results []imapserver.FetchResult

	for i, m := range mb.messages {
		key := m.uid
		if !uid {
			key = uint32(i + 1)
		}

		if !set.Contains(key) {
			continue
		}

		results = append(results, imapserver.FetchResult{Seq: uint32(i + 1), UID: m.uid, Items: fetchItems(m, items)})
	}

	state.Ok(results, s)
}

func fetchItems(m *message, items []string) map[string]string {
	out := map[string]string{}

	for _, item := range items {
		switch strings.ToUpper(item) {
		case "UID":
			out["UID"] = strconv.FormatUint(uint64(m.uid), 10)
		case "FLAGS":
			out["FLAGS"] = "(" + strings.Join(m.flagList(), " ") + ")"
		case "RFC822.SIZE":
			out["RFC822.SIZE"] = strconv.Itoa(len(m.data))
		case "INTERNALDATE":
			out["INTERNALDATE"] = `"` + m.internalDate.Format("02-Jan-2006 15:04:05 -0700") + `"`
		case "BODY[]", "RFC822":
			out[item] = "{" + strconv.Itoa(len(m.data)) + "}\r\n" + string(m.data)
		}
	}

	return out
}

func (s *selectedSession) Search(uid bool, criteria string, state *imapserver.SearchState) {
	mb := s.box()
	if mb == nil {
		state.No("mailbox no longer exists")

		return
	}

	criteria = strings.ToUpper(strings.TrimSpace(criteria))

	var matches []uint32

	for i, m := range mb.messages {
		if !matchesCriteria(m, criteria) {
			continue
		}

		if uid {
			matches = append(matches, m.uid)
		} else {
			matches = append(matches, uint32(i+1))
		}
	}

	state.Ok(matches, s)
}

func matchesCriteria(m *message, criteria string) bool {
	switch criteria {
	case "", "ALL":
		return true
	case "SEEN":
		return m.flags["\\Seen"]
	case "UNSEEN":
		return !m.flags["\\Seen"]
	case "FLAGGED":
		return m.flags["\\Flagged"]
	case "DELETED":
		return m.flags["\\Deleted"]
	case "ANSWERED":
		return m.flags["\\Answered"]
	case "NEW":
		return m.flags["\\Recent"] && !m.flags["\\Seen"]
	default:
		if strings.HasPrefix(criteria, "TEXT ") {
			return strings.Contains(strings.ToUpper(string(m.data)), strings.TrimPrefix(criteria, "TEXT "))
		}

		return false
	}
}

// matchMailboxPattern implements the RFC 9051 §6.3.9 LIST wildcard
// grammar: "*" matches any run of characters including hierarchy
// delimiters, "%" matches any run excluding them.
func matchMailboxPattern(pattern, name string) bool {
	return matchWildcard([]rune(pattern), []rune(name))
}

func matchWildcard(pattern, name []rune) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}

	switch pattern[0] {
	case '*':
		for i := 0; i <= len(name); i++ {
			if matchWildcard(pattern[1:], name[i:]) {
				return true
			}
		}

		return false
	case '%':
		for i := 0; i <= len(name); i++ {
			if matchWildcard(pattern[1:], name[i:]) {
				return true
			}

			if i < len(name) && name[i] == '/' {
				break
			}
		}

		return false
	default:
		if len(name) == 0 || pattern[0] != name[0] {
			return false
		}

		return matchWildcard(pattern[1:], name[1:])
	}
}

