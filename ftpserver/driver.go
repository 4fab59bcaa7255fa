package ftpserver

import (
	"crypto/tls"
	"io"
	"net"
	"os"

	"github.com/spf13/afero"

	"github.com/fclairamb/protoserver/quota"
)

// This file is the driver part of the server. It must be implemented by
// anyone wanting to embed the server: it is the only boundary between the
// session core and the authentication realm / file system / quota
// manager, all of which are out of scope.

// AuthResult is the outcome of a MainDriver.Authenticate call, mapped to a
// reply code by the dispatcher.
type AuthResult int

// Authentication results.
const (
	AuthSuccess AuthResult = iota
	AuthNeedPassword
	AuthNeedAccount
	AuthInvalidUser
	AuthInvalidPassword
	AuthInvalidAccount
	AuthAccountDisabled
	AuthTooManyAttempts
	AuthUserLimitExceeded
	AuthAnonymousNotAllowed
)

// OperationType is the taxonomy of file/navigation operations gated by
// MainDriver.IsAuthorized.
type OperationType int

// Authorization operation kinds.
const (
	OpRead OperationType = iota
	OpWrite
	OpDelete
	OpCreateDir
	OpDeleteDir
	OpRename
	OpNavigate
	OpSiteCommand
	OpAdmin
)

// MainDriver handles authentication and ClientDriver selection, and is
// consulted for every authorization and quota decision.
type MainDriver interface {
	// GetSettings returns the general settings for the server.
	GetSettings() (*Settings, error)

	// ClientConnected is called once per new control connection, before
	// authentication, to produce the welcome banner.
	ClientConnected(cc ClientContext) (string, error)

	// ClientDisconnected is called when the client disconnects, even if
	// it never authenticated.
	ClientDisconnected(cc ClientContext)

	// Authenticate authenticates (user, pass, acct) - acct may be empty
	// until ACCT is sent - and on AuthSuccess selects the ClientDriver to
	// use for file operations.
	Authenticate(cc ClientContext, user, pass, acct string) (AuthResult, ClientDriver, error)

	// GetTLSConfig returns the TLS configuration to use for AUTH TLS/SSL
	// and for an implicit-TLS listener.
	GetTLSConfig() (*tls.Config, error)

	// IsAuthorized gates every file/navigation command beyond the
	// authentication check. Every MainDriver implements it; returning true
	// authorizes the operation.
	IsAuthorized(cc ClientContext, op OperationType, path string) bool

	// GetQuotaManager returns the quota manager to enforce on
	// STOR/STOU/APPE and SITE QUOTA/SETQUOTA, or nil to disable quota
	// enforcement entirely.
	GetQuotaManager() quota.Manager

	// TransferStarting notifies the driver that a data transfer is about
	// to begin. size is the expected byte count, or -1 if it isn't known
	// ahead of time.
	TransferStarting(cc ClientContext, path string, isUpload bool, size int64)

	// TransferProgress notifies the driver of the cumulative byte count
	// transferred so far, at most every progressChunk bytes. A failing
	// implementation only gets logged; it never aborts the transfer.
	TransferProgress(cc ClientContext, path string, isUpload bool, total int64)

	// TransferCompleted notifies the driver that a transfer has ended,
	// successfully or not, with the final byte count transferred.
	TransferCompleted(cc ClientContext, path string, isUpload bool, total int64, success bool)

	// HandleSiteCommand lets the driver implement SITE subcommands beyond
	// the built-in QUOTA/SETQUOTA. Every MainDriver implements it; a driver
	// with no extra subcommands returns OpResultNotSupported.
	HandleSiteCommand(cc ClientContext, cmd string) (OpResult, string, error)
}

// OpResult is the outcome of a driver-handled SITE command, mapped to a
// reply code by the fixed table the dispatcher uses for every file
// operation.
type OpResult int

// Driver-reported operation outcomes.
const (
	OpResultSuccess OpResult = iota
	OpResultNotFound
	OpResultAccessDenied
	OpResultAlreadyExists
	OpResultDirectoryNotEmpty
	OpResultFileSystemError
	OpResultFileLocked
	OpResultIsDirectory
	OpResultIsFile
	OpResultInsufficientSpace
	OpResultQuotaExceeded
	OpResultInvalidName
	OpResultNotSupported
)

// replyCodeForOpResult maps an OpResult to its fixed FTP reply code.
func replyCodeForOpResult(result OpResult) int {
	switch result {
	case OpResultSuccess:
		return StatusFileOK
	case OpResultNotFound, OpResultAccessDenied, OpResultAlreadyExists, OpResultDirectoryNotEmpty,
		OpResultFileSystemError, OpResultFileLocked, OpResultIsDirectory, OpResultIsFile:
		return StatusPermissionDenied
	case OpResultInsufficientSpace, OpResultQuotaExceeded:
		return StatusActionAborted
	case OpResultInvalidName:
		return StatusActionNotTakenNoFile
	case OpResultNotSupported:
		return StatusNotImplemented
	default:
		return StatusPermissionDenied
	}
}

// ClientDriver is the base FS implementation that allows manipulating files.
type ClientDriver interface {
	afero.Fs
}

// ClientDriverExtensionAllocate is an extension to support ALLO.
type ClientDriverExtensionAllocate interface {
	AllocateSpace(size int) error
}

// ClientDriverExtensionFileList lets a driver return a directory listing
// without implementing the full afero.File contract.
type ClientDriverExtensionFileList interface {
	ReadDir(name string) ([]os.FileInfo, error)
}

// ClientDriverExtensionTransfer lets a driver hand back a FileTransfer
// directly instead of going through Open/Create/OpenFile.
type ClientDriverExtensionTransfer interface {
	// GetHandle returns a handle to upload or download a file.
	// flags follows os.O_RDONLY/os.O_WRONLY/os.O_APPEND/os.O_CREATE.
	// offset is the REST restart offset, or 0.
	GetHandle(name string, flags int, offset int64) (FileTransfer, error)
}

// ClientDriverExtensionRemoveDir distinguishes DELE (file) from RMD (dir).
type ClientDriverExtensionRemoveDir interface {
	RemoveDir(name string) error
}

// ClientDriverExtensionUniqueName supports STOU: the driver generates a
// unique file name in dir and returns it.
type ClientDriverExtensionUniqueName interface {
	GenerateUniqueName(dir string) (string, error)
}

// ClientContext exposes the observable per-connection data to the driver.
type ClientContext interface {
	Path() string
	SetDebug(debug bool)
	Debug() bool
	ID() uint32
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Close() error
	HasTLSForControl() bool
	HasTLSForTransfers() bool
	GetLastCommand() string
	// User returns the currently authenticated user, or "" pre-auth.
	User() string
}

// FileTransfer is the interface for an open file transfer handle.
type FileTransfer interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// FileTransferError lets a FileTransfer be notified when a transfer fails
// mid-stream, so it can clean up a partial upload.
type FileTransferError interface {
	TransferError(err error)
}

// PortRange is an inclusive range of TCP ports for passive connections.
type PortRange struct {
	Start int
	End   int
}

// PublicIPResolver resolves the public IP to advertise in PASV/EPSV replies.
type PublicIPResolver func(ClientContext) (string, error)

// TLSRequirement is the server-wide TLS policy.
type TLSRequirement int

// TLS modes.
const (
	ClearOrEncrypted TLSRequirement = iota
	MandatoryEncryption
	ImplicitEncryption
)

// Settings defines the general server settings, returned by
// MainDriver.GetSettings.
// nolint: maligned
type Settings struct {
	Listener                 net.Listener
	ListenAddr               string
	PublicHost               string
	PublicIPResolver         PublicIPResolver
	PassiveTransferPortRange *PortRange
	ActiveTransferPortNon20  bool
	IdleTimeout              int
	ConnectionTimeout        int
	DisableMLSD              bool
	DisableActiveMode        bool
	DisableSite              bool
	Banner                   string
	TLSRequired              TLSRequirement
	DefaultTransferType      TransferType
	MaxLineLength            int
}
