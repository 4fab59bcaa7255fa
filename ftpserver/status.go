// Package ftpserver implements the FTP control-plus-data-connection
// session core: command dispatch, authentication/authorization gating,
// the data-connection coordinator, RFC 4217 TLS upgrade, and the transfer
// streaming pipeline.
package ftpserver

// FTP reply codes used by the dispatcher.
const (
	StatusFileStatusOK                   = 150 // TRANSFER_STARTING
	StatusOK                             = 200
	StatusCommandNotImplemented          = 202
	StatusSystemStatus                   = 211 // multi-line STAT / FEAT
	StatusSystemType                     = 215
	StatusServiceReady                   = 220
	StatusClosingControlConn             = 221
	StatusDataConnectionOpen             = 225
	StatusClosingDataConn                = 226
	StatusEnteringPASV                   = 227
	StatusEnteringEPSV                   = 229
	StatusAuthAccepted                   = 234 // AUTH TLS/SSL ok
	StatusUserLoggedIn                   = 230 // AuthResult Success
	StatusFileOK                         = 250
	StatusPathCreated                    = 257
	StatusUserOK                         = 331 // NEED_PASSWORD
	StatusNeedAccount                    = 332 // NEED_ACCOUNT
	StatusFileActionPending              = 350 // RNTO pending (RENAME_PENDING)
	StatusServiceNotAvailable            = 421 // TOO_MANY_ATTEMPTS / USER_LIMIT_EXCEEDED / listener errors
	StatusCannotOpenDataConnection        = 425
	StatusConnectionClosedTransferAborted = 426
	StatusTLSHandshakeFailed              = 431
	StatusActionNotTaken                  = 450
	StatusNotLoggedIn                     = 530 // AUTH failures
	StatusActionAborted                   = 552 // quota/storage
	StatusActionNotTakenNoFile            = 553
	StatusSyntaxErrorNotRecognised        = 500
	StatusSyntaxErrorParameters           = 501
	StatusNotImplemented                  = 502
	StatusBadSequence                     = 503
	StatusNotImplementedParameter         = 504
	StatusPermissionDenied                = 550 // generic file error fallback
)
