package ftpserver

import (
	"fmt"
	"net"
	"sync"
)

// transferHandler abstracts the passive/active connection-establishment
// strategy behind a single Open/Close contract.
type transferHandler interface {
	// Open returns the data connection, dialing or accepting as needed.
	Open() (net.Conn, error)
	// Close releases any listener/connection held by the handler.
	Close() error
	// SetInfo/GetInfo record the human-readable transfer description
	// reported by STAT while a transfer is in flight.
	SetInfo(string)
	GetInfo() string
}

// coordinatorMode is the data-connection mode currently latched on the
// session.
type coordinatorMode int

// Coordinator modes.
const (
	coordinatorModeNone coordinatorMode = iota
	coordinatorModePassive
	coordinatorModeActive
)

// TransferKind distinguishes the four shapes a PendingTransfer can take.
type TransferKind int

// Transfer kinds.
const (
	TransferKindDownload TransferKind = iota
	TransferKindUpload
	TransferKindListing
	TransferKindStoreUnique
)

// PendingTransfer is the transfer state latched against the data
// connection once a command (RETR/STOR/APPE/STOU/LIST/NLST/MLSD) claims
// it: what is being moved, in which direction, at what restart offset,
// and which handler/metadata it is bound to.
type PendingTransfer struct {
	Kind          TransferKind
	Path          string
	Append        bool
	RestartOffset int64

	handler  transferHandler
	metadata ClientContext
}

// dataConnectionCoordinator owns the single data-connection slot of a
// session: exactly one of PASV/EPSV/PORT/EPRT may be
// latched at a time, and at most one transfer may be open against it.
type dataConnectionCoordinator struct {
	session *FTPSession

	mu      sync.Mutex
	mode    coordinatorMode
	handler transferHandler
	open    bool
	aborted bool
	pending *PendingTransfer
}

func newDataConnectionCoordinator(s *FTPSession) *dataConnectionCoordinator {
	return &dataConnectionCoordinator{session: s}
}

// latch installs handler as the pending data connection, replacing (and
// closing) anything previously latched: only the most recent PASV/PORT
// survives, per RFC 959.
func (d *dataConnectionCoordinator) latch(mode coordinatorMode, handler transferHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler != nil {
		_ = d.handler.Close()
	}

	d.mode = mode
	d.handler = handler
	d.open = false
	d.aborted = false
	d.pending = nil
}

// describe records the transfer that is about to claim the latched data
// connection, populating PendingTransfer's kind/path/append/restart-offset
// fields before openTransfer even dials or accepts.
func (d *dataConnectionCoordinator) describe(kind TransferKind, path string, appendMode bool, restartOffset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = &PendingTransfer{
		Kind:          kind,
		Path:          path,
		Append:        appendMode,
		RestartOffset: restartOffset,
		handler:       d.handler,
		metadata:      d.session,
	}
}

// info reports the current transfer description for STAT.
func (d *dataConnectionCoordinator) info() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler == nil {
		return ""
	}

	return d.handler.GetInfo()
}

// openTransfer establishes the data connection for a transfer command (RETR, STOR,
// LIST, ...), writing the intermediate 150 reply on success.
func (d *dataConnectionCoordinator) openTransfer(info string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler == nil {
		if d.aborted {
			d.aborted = false

			return nil, errNoTransferConnection
		}

		d.session.writeMessage(StatusActionNotTaken, errNoTransferConnection.Error())

		return nil, errNoTransferConnection
	}

	if d.session.server.settings.TLSRequired == MandatoryEncryption && !d.session.HasTLSForTransfers() {
		d.session.writeMessage(StatusServiceNotAvailable, errTLSRequired.Error())

		return nil, errTLSRequired
	}

	conn, err := d.handler.Open()
	if err != nil {
		d.session.logger.Warn("unable to open transfer", "err", err)
		d.session.writeMessage(StatusCannotOpenDataConnection, err.Error())

		return nil, err
	}

	d.open = true
	d.handler.SetInfo(info)
	d.session.writeMessage(StatusFileStatusOK, "Using transfer connection")

	return conn, nil
}

// closeTransfer tears down the data connection and reports the outcome
// the handler is always released so the next
// PASV/PORT starts from a clean slate.
func (d *dataConnectionCoordinator) closeTransfer(transferErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var closeErr error
	if d.handler != nil {
		closeErr = d.handler.Close()
	}

	d.handler = nil
	d.mode = coordinatorModeNone
	d.open = false
	d.pending = nil

	if d.aborted {
		d.aborted = false

		return
	}

	switch {
	case transferErr == nil && closeErr == nil:
		d.session.writeMessage(StatusClosingDataConn, "Closing data connection")
	case closeErr != nil:
		d.session.writeMessage(StatusActionNotTaken, fmt.Sprintf("Issue during transfer close: %v", closeErr))
	default:
		d.session.writeMessage(StatusActionNotTaken, fmt.Sprintf("Issue during transfer: %v", transferErr))
	}
}

// abort implements ABOR: if a transfer is open, closing
// the handler unblocks the streaming goroutine; the transfer's own
// closeTransfer call then sees aborted and stays silent.
func (d *dataConnectionCoordinator) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.aborted = true

	if d.handler != nil && d.open {
		_ = d.handler.Close()
	}
}

// cleanup releases any latched handler without writing a reply; called on
// session teardown.
func (d *dataConnectionCoordinator) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler != nil {
		_ = d.handler.Close()
		d.handler = nil
	}

	d.mode = coordinatorModeNone
	d.open = false
	d.pending = nil
}
