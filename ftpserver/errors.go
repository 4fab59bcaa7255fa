package ftpserver

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies a failure for telemetry attribution and reply
// mapping.
type ErrorCategory string

// Error categories.
const (
	CategoryTransport     ErrorCategory = "TRANSPORT"
	CategoryProtocol      ErrorCategory = "PROTOCOL"
	CategoryAuth          ErrorCategory = "AUTH"
	CategoryAuthorization ErrorCategory = "AUTHORIZATION"
	CategoryNotFound      ErrorCategory = "NOT_FOUND"
	CategoryConflict      ErrorCategory = "CONFLICT"
	CategoryLimitExceeded ErrorCategory = "LIMIT_EXCEEDED"
	CategoryInternal      ErrorCategory = "INTERNAL"
	CategoryShutdown      ErrorCategory = "SHUTDOWN"
)

var (
	// ErrStorageExceeded maps to the FTP 552 reply code (RFC 959 STOR/APPE).
	ErrStorageExceeded = errors.New("storage limit exceeded")
	// ErrFileNameNotAllowed maps to the FTP 553 reply code.
	ErrFileNameNotAllowed = errors.New("filename not allowed")
	// ErrNoAvailableListeningPort is returned when no port could be found
	// for a passive listener.
	ErrNoAvailableListeningPort = errors.New("could not find any port to listen to")
	// ErrRemoteAddrFormat is returned when PORT/EPRT arguments are malformed.
	ErrRemoteAddrFormat = errors.New("remote address has a bad format")
	// ErrNotListening is returned by Stop when the server never started
	// listening.
	ErrNotListening = errors.New("server is not listening")
	// errNoTransferConnection is returned when a transfer command runs
	// before PASV/PORT/EPSV/EPRT established a data connection mode.
	errNoTransferConnection = errors.New("no transfer connection established")
	// errTLSRequired is returned when the server mandates encrypted data
	// connections (TLSRequired == MandatoryEncryption) and the client
	// hasn't negotiated PROT P.
	errTLSRequired = errors.New("TLS is required on the data connection")
)

// DriverError wraps any error surfaced by the MainDriver/ClientDriver.
type DriverError struct {
	category ErrorCategory
	str      string
	err      error
}

// NewDriverError wraps err as a driver-layer failure in category.
func NewDriverError(category ErrorCategory, str string, err error) DriverError {
	return DriverError{category: category, str: str, err: err}
}

func (e DriverError) Error() string {
	return fmt.Sprintf("driver error: %s: %v", e.str, e.err)
}

// Category implements the categorized-error contract used by the reply mapper.
func (e DriverError) Category() ErrorCategory { return e.category }

// Unwrap allows errors.Is/errors.As to see through the wrapper.
func (e DriverError) Unwrap() error { return e.err }

// NetworkError wraps a transport-level failure (control or data socket).
type NetworkError struct {
	str string
	err error
}

// NewNetworkError wraps err as a transport failure.
func NewNetworkError(str string, err error) NetworkError {
	return NetworkError{str: str, err: err}
}

func (e NetworkError) Error() string        { return fmt.Sprintf("network error: %s: %v", e.str, e.err) }
func (e NetworkError) Category() ErrorCategory { return CategoryTransport }
func (e NetworkError) Unwrap() error         { return e.err }

// FileAccessError wraps a file-system level failure returned by a ClientDriver.
type FileAccessError struct {
	category ErrorCategory
	str      string
	err      error
}

// NewFileAccessError wraps err as a file-access failure in category.
func NewFileAccessError(category ErrorCategory, str string, err error) FileAccessError {
	return FileAccessError{category: category, str: str, err: err}
}

func (e FileAccessError) Error() string {
	return fmt.Sprintf("file access error: %s: %v", e.str, e.err)
}

func (e FileAccessError) Category() ErrorCategory { return e.category }
func (e FileAccessError) Unwrap() error            { return e.err }

// categorized is implemented by every error type above, letting the
// dispatcher map a category to a reply code without a type switch on the
// concrete wrapper.
type categorized interface {
	Category() ErrorCategory
}

// categoryOf extracts the ErrorCategory from err if it implements
// categorized, else CategoryInternal.
func categoryOf(err error) ErrorCategory {
	var c categorized
	if errors.As(err, &c) {
		return c.Category()
	}

	return CategoryInternal
}

// replyCodeForCategory maps an ErrorCategory to a default FTP reply code
// individual handlers may still pick a more specific code.
func replyCodeForCategory(cat ErrorCategory) int {
	switch cat {
	case CategoryAuth:
		return StatusNotLoggedIn
	case CategoryAuthorization:
		return StatusPermissionDenied
	case CategoryNotFound, CategoryConflict:
		return StatusPermissionDenied
	case CategoryLimitExceeded:
		return StatusActionAborted
	case CategoryProtocol:
		return StatusSyntaxErrorNotRecognised
	case CategoryShutdown:
		return StatusServiceNotAvailable
	case CategoryTransport, CategoryInternal:
		fallthrough
	default:
		return StatusActionNotTaken
	}
}
