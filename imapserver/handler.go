// Package imapserver implements the IMAP4rev2 session core: a staged
// handler state machine (NotAuthenticated/Authenticated/Selected) driven
// by a line-and-literal framer, independent of any concrete mailbox
// store, realm, or quota backend.
package imapserver

// ClientConnectedHandler is invoked once per new connection, before any
// command is read, to produce the greeting and pick the starting stage.
type ClientConnectedHandler interface {
	Connected(conn *Conn, state *ConnectedState)
}

// NotAuthenticatedHandler handles commands valid before LOGIN/AUTHENTICATE
// succeeds.
type NotAuthenticatedHandler interface {
	// Authenticate is invoked by the session after the realm has verified
	// the SASL exchange or plaintext LOGIN credentials; principal is the
	// authenticated identity.
	Authenticate(principal string, mechanism string, state *AuthenticateState)
}

// AuthenticatedHandler handles commands valid once logged in but with no
// mailbox selected. SelectedHandler embeds it, since every AUTH-state
// operation remains legal once a mailbox is selected.
type AuthenticatedHandler interface {
	Select(mailbox string, readOnly bool, state *SelectState)
	Create(mailbox string, state *CreateState)
	Delete(mailbox string, state *DeleteState)
	Rename(existing, newName string, state *RenameState)
	Subscribe(mailbox string, state *SubscribeState)
	Unsubscribe(mailbox string, state *SubscribeState)
	List(reference, pattern string, state *ListState)
	Lsub(reference, pattern string, state *ListState)
	Status(mailbox string, items []StatusItem, state *AuthenticatedStatusState)
	Append(mailbox string, flags []string, size int64, state *AppendState)
	GetQuota(root string, state *QuotaState)
	GetQuotaRoot(mailbox string, state *QuotaState)
	SetQuota(root string, limitBytes int64, state *QuotaState)
}

// SelectedHandler handles every AuthenticatedHandler operation plus the
// mailbox-scoped ones that require a currently selected mailbox.
type SelectedHandler interface {
	AuthenticatedHandler

	Close(state *CloseState)
	Unselect(state *CloseState)
	Expunge(uids *SequenceSet, state *ExpungeState)
	Store(set *SequenceSet, uid bool, op StoreOp, flags []string, silent bool, state *StoreState)
	Copy(set *SequenceSet, uid bool, dest string, state *CopyState)
	Move(set *SequenceSet, uid bool, dest string, state *MoveState)
	Fetch(set *SequenceSet, uid bool, items []string, state *FetchState)
	Search(uid bool, criteria string, state *SearchState)
}

// StatusItem is one of the RFC 9051 STATUS data items.
type StatusItem string

// Supported STATUS items.
const (
	StatusMessages    StatusItem = "MESSAGES"
	StatusUIDNext     StatusItem = "UIDNEXT"
	StatusUIDValidity StatusItem = "UIDVALIDITY"
	StatusUnseen      StatusItem = "UNSEEN"
	StatusRecent      StatusItem = "RECENT"
	StatusDeleted     StatusItem = "DELETED"
	StatusSize        StatusItem = "SIZE"
)

// StoreOp is the FLAGS/+FLAGS/-FLAGS mode of STORE/UID STORE.
type StoreOp int

// Store operations.
const (
	StoreSetFlags StoreOp = iota
	StoreAddFlags
	StoreRemoveFlags
)

// transition is the outcome recorded by a terminal State method. Every
// State wraps one of these; the session reads it back once the handler
// method returns: one small value per state, fixed method set,
// synchronous terminal call.
type transition struct {
	kind transitionKind
	msg  string
	code string // RFC 9051 response code, e.g. "TRYCREATE", "ALREADYEXISTS"
}

type transitionKind int

const (
	transitionUnset transitionKind = iota
	transitionOK
	transitionNo
	transitionBad
	transitionShuttingDown
)

func (t *transition) ok()                      { t.kind = transitionOK }
func (t *transition) no(msg string)             { t.kind = transitionNo; t.msg = msg }
func (t *transition) noWithCode(msg, code string) {
	t.kind = transitionNo
	t.msg = msg
	t.code = code
}
func (t *transition) bad(msg string)            { t.kind = transitionBad; t.msg = msg }
func (t *transition) shuttingDown()             { t.kind = transitionShuttingDown }
