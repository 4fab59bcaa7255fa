package imapserver

import "strings"

// ConnectedState is the terminal target of ClientConnectedHandler.Connected.
type ConnectedState struct {
	transition
	greeting string
	notAuth  NotAuthenticatedHandler
	auth     AuthenticatedHandler
}

// AcceptConnection starts the session in NOT_AUTH with greeting.
func (s *ConnectedState) AcceptConnection(greeting string, h NotAuthenticatedHandler) {
	s.ok()
	s.greeting = greeting
	s.notAuth = h
}

// AcceptPreauth starts the session already authenticated (PREAUTH).
func (s *ConnectedState) AcceptPreauth(greeting string, h AuthenticatedHandler) {
	s.ok()
	s.greeting = greeting
	s.auth = h
}

// RejectConnection refuses the connection with an optional message; the
// session replies BYE and closes.
func (s *ConnectedState) RejectConnection(msg string) { s.no(msg) }

// ServerShuttingDown refuses the connection because the server is
// draining.
func (s *ConnectedState) ServerShuttingDown() { s.shuttingDown() }

// AuthenticateState is the terminal target of NotAuthenticatedHandler.Authenticate.
type AuthenticateState struct {
	transition
	mechanism string
	store     AuthenticatedHandler
	notAuth   NotAuthenticatedHandler
}

// Accept promotes the session to AUTH with store as the AuthenticatedHandler.
func (s *AuthenticateState) Accept(store AuthenticatedHandler) {
	s.ok()
	s.store = store
}

// AcceptWithMessage is Accept plus a human-readable note echoed in the
// tagged OK response.
func (s *AuthenticateState) AcceptWithMessage(msg string, store AuthenticatedHandler) {
	s.ok()
	s.msg = msg
	s.store = store
}

// Reject keeps the session in NOT_AUTH with a (possibly new)
// NotAuthenticatedHandler; most realms just return the same handler.
func (s *AuthenticateState) Reject(msg string, h NotAuthenticatedHandler) {
	s.no(msg)
	s.notAuth = h
}

// RejectAndClose fails the login and closes the connection outright.
func (s *AuthenticateState) RejectAndClose(msg string) { s.bad(msg) }

// ServerShuttingDown refuses authentication because the server is
// draining.
func (s *AuthenticateState) ServerShuttingDown() { s.shuttingDown() }

// SelectState is the terminal target of AuthenticatedHandler.Select/Examine.
type SelectState struct {
	transition
	handler     SelectedHandler
	exists      uint32
	recent      uint32
	uidValidity uint32
	uidNext     uint32
	flags       []string
}

// SelectOk reports the selected mailbox's size and moves the session to
// SELECTED.
func (s *SelectState) SelectOk(exists, recent, uidValidity, uidNext uint32, flags []string, h SelectedHandler) {
	s.ok()
	s.exists, s.recent, s.uidValidity, s.uidNext = exists, recent, uidValidity, uidNext
	s.flags = flags
	s.handler = h
}

// SelectFailed reports a generic failure; the session stays in AUTH.
func (s *SelectState) SelectFailed(msg string) { s.no(msg) }

// MailboxNotFound is SelectFailed with the RFC 9051 TRYCREATE hint absent
// (SELECT/EXAMINE never suggest TRYCREATE; that is APPEND/COPY-only).
func (s *SelectState) MailboxNotFound(msg string) { s.no(msg) }

// AccessDenied reports that the mailbox exists but isn't selectable.
func (s *SelectState) AccessDenied(msg string) { s.no(msg) }

// No is a catch-all negative outcome.
func (s *SelectState) No(msg string) { s.no(msg) }

// CreateState is the terminal target of AuthenticatedHandler.Create.
type CreateState struct {
	transition
	handler AuthenticatedHandler
}

// Ok reports success; h is the (possibly unchanged) AuthenticatedHandler
// to keep dispatching to.
func (s *CreateState) Ok(h AuthenticatedHandler) { s.ok(); s.handler = h }

// AlreadyExists fails CREATE with the RFC 9051 ALREADYEXISTS response code.
func (s *CreateState) AlreadyExists(msg string) { s.noWithCode(msg, "ALREADYEXISTS") }

// No is a catch-all negative outcome.
func (s *CreateState) No(msg string) { s.no(msg) }

// DeleteState is the terminal target of AuthenticatedHandler.Delete.
type DeleteState struct {
	transition
	handler AuthenticatedHandler
}

func (s *DeleteState) Ok(h AuthenticatedHandler) { s.ok(); s.handler = h }
func (s *DeleteState) No(msg string)              { s.no(msg) }

// RenameState is the terminal target of AuthenticatedHandler.Rename.
type RenameState struct {
	transition
	handler AuthenticatedHandler
}

func (s *RenameState) Ok(h AuthenticatedHandler) { s.ok(); s.handler = h }
func (s *RenameState) No(msg string)              { s.no(msg) }

// SubscribeState is the terminal target of SUBSCRIBE and UNSUBSCRIBE.
type SubscribeState struct {
	transition
	handler AuthenticatedHandler
}

func (s *SubscribeState) Ok(h AuthenticatedHandler) { s.ok(); s.handler = h }
func (s *SubscribeState) No(msg string)              { s.no(msg) }

// Mailbox is one LIST/LSUB response entry.
type Mailbox struct {
	Name       string
	Delimiter  string
	Attributes []string // e.g. "\\Noselect", "\\HasChildren"
}

// ListState is the terminal target of LIST and LSUB.
type ListState struct {
	transition
	handler  AuthenticatedHandler
	mailboxes []Mailbox
}

func (s *ListState) Ok(mailboxes []Mailbox, h AuthenticatedHandler) {
	s.ok()
	s.mailboxes = mailboxes
	s.handler = h
}

func (s *ListState) No(msg string) { s.no(msg) }

// AuthenticatedStatusState is the terminal target of STATUS.
type AuthenticatedStatusState struct {
	transition
	handler AuthenticatedHandler
	values  map[StatusItem]uint32
}

func (s *AuthenticatedStatusState) Ok(values map[StatusItem]uint32, h AuthenticatedHandler) {
	s.ok()
	s.values = values
	s.handler = h
}

func (s *AuthenticatedStatusState) MailboxNotFound(msg string) { s.no(msg) }
func (s *AuthenticatedStatusState) No(msg string)                { s.no(msg) }

// AppendDataHandler receives the literal bytes of an APPEND payload in
// chunks, then a final call once the declared length has been consumed.
type AppendDataHandler interface {
	AppendData(mailbox string, chunk []byte) error
	AppendComplete(mailbox string, state *AppendCompleteState)
}

// AppendState is the terminal target of AuthenticatedHandler.Append; a
// positive outcome hands back an AppendDataHandler to stream the literal
// into.
type AppendState struct {
	transition
	size    int64
	flags   []string
	handler AppendDataHandler
}

// AcceptLiteral tells the session to read the message literal, delivering
// it to handler. The session reads the byte count the client declared in
// the APPEND command; size and flags are recorded on the state only.
func (s *AppendState) AcceptLiteral(size int64, flags []string, handler AppendDataHandler) {
	s.ok()
	s.size = size
	s.flags = flags
	s.handler = handler
}

// TryCreate fails APPEND with RFC 9051's TRYCREATE response code: the
// destination mailbox doesn't exist but could be CREATEd first.
func (s *AppendState) TryCreate(msg string) { s.noWithCode(msg, "TRYCREATE") }

func (s *AppendState) No(msg string) { s.no(msg) }

// AppendCompleteState is the terminal target of AppendDataHandler.AppendComplete.
type AppendCompleteState struct {
	transition
	uid     uint32
	handler AuthenticatedHandler
}

// Ok reports the assigned UID (for the UIDPLUS response code) and the
// handler to resume dispatching to.
func (s *AppendCompleteState) Ok(uidValidity, uid uint32, h AuthenticatedHandler) {
	s.ok()
	s.uid = uid
	s.handler = h
	s.code = uidplusAppendCode(uidValidity, uid)
}

func (s *AppendCompleteState) No(msg string) { s.no(msg) }

// CloseState is the terminal target of CLOSE and UNSELECT.
type CloseState struct {
	transition
	handler AuthenticatedHandler
}

func (s *CloseState) Closed(h AuthenticatedHandler) { s.ok(); s.handler = h }
func (s *CloseState) No(msg string)                  { s.no(msg) }

// ExpungeState is the terminal target of EXPUNGE and UID EXPUNGE.
type ExpungeState struct {
	transition
	expunged []uint32 // sequence numbers reported via untagged EXPUNGE
	handler  SelectedHandler
}

func (s *ExpungeState) Ok(expunged []uint32, h SelectedHandler) {
	s.ok()
	s.expunged = expunged
	s.handler = h
}

func (s *ExpungeState) No(msg string) { s.no(msg) }

// StoreState is the terminal target of STORE and UID STORE.
type StoreState struct {
	transition
	updates []FetchResult
	handler SelectedHandler
}

func (s *StoreState) Ok(updates []FetchResult, h SelectedHandler) {
	s.ok()
	s.updates = updates
	s.handler = h
}

func (s *StoreState) No(msg string) { s.no(msg) }

// CopyState is the terminal target of COPY and UID COPY.
type CopyState struct {
	transition
	handler SelectedHandler
}

// Ok completes COPY with no UIDPLUS response code, for a destination
// mailbox store that can't report the copied UIDs.
func (s *CopyState) Ok(h SelectedHandler) { s.ok(); s.handler = h }

// OkWithUID completes COPY with RFC 4315's COPYUID response code:
// destUIDValidity is the destination mailbox's UIDVALIDITY, sourceUIDs and
// destUIDs are the same-length, same-order UID lists before and after the
// copy.
func (s *CopyState) OkWithUID(destUIDValidity uint32, sourceUIDs, destUIDs []uint32, h SelectedHandler) {
	s.ok()
	s.handler = h
	s.code = uidplusCopyCode(destUIDValidity, sourceUIDs, destUIDs)
}

func (s *CopyState) TryCreate(msg string) { s.noWithCode(msg, "TRYCREATE") }
func (s *CopyState) No(msg string)         { s.no(msg) }

// MoveState is the terminal target of MOVE and UID MOVE (RFC 6851).
type MoveState struct {
	transition
	handler SelectedHandler
}

// Ok completes MOVE with no UIDPLUS response code.
func (s *MoveState) Ok(h SelectedHandler) { s.ok(); s.handler = h }

// OkWithUID completes MOVE with RFC 4315's COPYUID response code, per RFC
// 6851 §4's requirement that a COPYUID still be reported even though the
// messages no longer exist in the source mailbox afterwards.
func (s *MoveState) OkWithUID(destUIDValidity uint32, sourceUIDs, destUIDs []uint32, h SelectedHandler) {
	s.ok()
	s.handler = h
	s.code = uidplusCopyCode(destUIDValidity, sourceUIDs, destUIDs)
}

func (s *MoveState) TryCreate(msg string) { s.noWithCode(msg, "TRYCREATE") }
func (s *MoveState) No(msg string)         { s.no(msg) }

// FetchResult is one FETCH/UID FETCH response's worth of data items.
type FetchResult struct {
	Seq   uint32
	UID   uint32
	Items map[string]string // item name (e.g. "FLAGS", "RFC822.SIZE") -> rendered value
}

// FetchState is the terminal target of FETCH and UID FETCH.
type FetchState struct {
	transition
	results []FetchResult
	handler SelectedHandler
}

func (s *FetchState) Ok(results []FetchResult, h SelectedHandler) {
	s.ok()
	s.results = results
	s.handler = h
}

func (s *FetchState) No(msg string) { s.no(msg) }

// SearchState is the terminal target of SEARCH and UID SEARCH.
type SearchState struct {
	transition
	matches []uint32
	handler SelectedHandler
}

func (s *SearchState) Ok(matches []uint32, h SelectedHandler) {
	s.ok()
	s.matches = matches
	s.handler = h
}

func (s *SearchState) No(msg string) { s.no(msg) }

// QuotaState is the terminal target of GETQUOTA/GETQUOTAROOT/SETQUOTA.
type QuotaState struct {
	transition
	root      string
	usedBytes int64
	limitBytes int64
	handler   AuthenticatedHandler
}

func (s *QuotaState) Ok(root string, usedBytes, limitBytes int64, h AuthenticatedHandler) {
	s.ok()
	s.root = root
	s.usedBytes = usedBytes
	s.limitBytes = limitBytes
	s.handler = h
}

func (s *QuotaState) No(msg string) { s.no(msg) }

// uidplusAppendCode renders the RFC 4315 APPENDUID response code.
func uidplusAppendCode(uidValidity, uid uint32) string {
	return "APPENDUID " + formatUint(uidValidity) + " " + formatUint(uid)
}

// uidplusCopyCode renders the RFC 4315 COPYUID response code: source and
// dest are rendered as comma-joined UID lists, in the same order, per §3's
// "uid-set uid-set" grammar (a valid degenerate case of the range syntax).
func uidplusCopyCode(destUIDValidity uint32, sourceUIDs, destUIDs []uint32) string {
	return "COPYUID " + formatUint(destUIDValidity) + " " + formatUintList(sourceUIDs) + " " + formatUintList(destUIDs)
}

func formatUintList(vs []uint32) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatUint(v)
	}

	return strings.Join(parts, ",")
}
