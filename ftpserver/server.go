package ftpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	golog "github.com/fclairamb/go-log"
	lognoop "github.com/fclairamb/go-log/noop"
)

// CommandDescription defines how a verb is dispatched.
type CommandDescription struct {
	Open            bool                          // allowed before authentication
	TransferRelated bool                          // may open a data connection; runs in its own goroutine so ABOR can cancel it
	SpecialAction   bool                          // handled even while a transfer is in flight (ABOR, QUIT, STAT)
	Fn              func(*FTPSession, string) error
}

// commandsMap is shared across FtpServer instances: the FTP verb table
// does not vary between servers.
var commandsMap = map[string]*CommandDescription{ //nolint:gochecknoglobals
	// Authentication
	"USER": {Fn: (*FTPSession).handleUSER, Open: true},
	"PASS": {Fn: (*FTPSession).handlePASS, Open: true},
	"ACCT": {Fn: (*FTPSession).handleACCT, Open: true},

	// RFC 4217 TLS upgrade
	"AUTH": {Fn: (*FTPSession).handleAUTH, Open: true},
	"PBSZ": {Fn: (*FTPSession).handlePBSZ, Open: true},
	"PROT": {Fn: (*FTPSession).handlePROT, Open: true},
	"CCC":  {Fn: (*FTPSession).handleCCC, Open: true},
	"FEAT": {Fn: (*FTPSession).handleFEAT, Open: true},

	// Misc
	"SYST": {Fn: (*FTPSession).handleSYST, Open: true},
	"STAT": {Fn: (*FTPSession).handleSTAT, Open: true, SpecialAction: true},
	"HELP": {Fn: (*FTPSession).handleHELP, Open: true},
	"NOOP": {Fn: (*FTPSession).handleNOOP, Open: true},
	"QUIT": {Fn: (*FTPSession).handleQUIT, Open: true, SpecialAction: true},
	"TYPE": {Fn: (*FTPSession).handleTYPE},
	"MODE": {Fn: (*FTPSession).handleMODE},
	"STRU": {Fn: (*FTPSession).handleSTRU},
	"SITE": {Fn: (*FTPSession).handleSITE},

	// Connection handling / data connection setup
	"PORT": {Fn: (*FTPSession).handlePORT},
	"EPRT": {Fn: (*FTPSession).handleEPRT},
	"PASV": {Fn: (*FTPSession).handlePASV},
	"EPSV": {Fn: (*FTPSession).handleEPSV},

	// File access / transfer streaming
	"RETR": {Fn: (*FTPSession).handleRETR, TransferRelated: true},
	"STOR": {Fn: (*FTPSession).handleSTOR, TransferRelated: true},
	"STOU": {Fn: (*FTPSession).handleSTOU, TransferRelated: true},
	"APPE": {Fn: (*FTPSession).handleAPPE, TransferRelated: true},
	"LIST": {Fn: (*FTPSession).handleLIST, TransferRelated: true},
	"NLST": {Fn: (*FTPSession).handleNLST, TransferRelated: true},
	"MLSD": {Fn: (*FTPSession).handleMLSD, TransferRelated: true},
	"MLST": {Fn: (*FTPSession).handleMLST},
	"ALLO": {Fn: (*FTPSession).handleALLO},
	"REST": {Fn: (*FTPSession).handleREST},
	"RNFR": {Fn: (*FTPSession).handleRNFR},
	"RNTO": {Fn: (*FTPSession).handleRNTO},
	"DELE": {Fn: (*FTPSession).handleDELE},
	"SIZE": {Fn: (*FTPSession).handleSIZE},
	"MDTM": {Fn: (*FTPSession).handleMDTM},
	"ABOR": {Fn: (*FTPSession).handleABOR, Open: true, SpecialAction: true},

	// Directory handling
	"CWD":  {Fn: (*FTPSession).handleCWD},
	"CDUP": {Fn: (*FTPSession).handleCDUP},
	"PWD":  {Fn: (*FTPSession).handlePWD},
	"MKD":  {Fn: (*FTPSession).handleMKD},
	"RMD":  {Fn: (*FTPSession).handleRMD},

	// Explicit Non-goals: accepted syntactically, always 502.
	"SMNT": {Fn: (*FTPSession).handleNotImplemented},
	"REIN": {Fn: (*FTPSession).handleNotImplemented},
}

// FtpServer is the top-level listener: it holds the settings and the
// driver, and accepts connections into FTPSessions.
type FtpServer struct {
	Logger        golog.Logger
	settings      *Settings
	listener      net.Listener
	clientCounter uint32
	driver        MainDriver
}

// NewFtpServer creates a new FtpServer bound to driver.
func NewFtpServer(driver MainDriver) *FtpServer {
	return &FtpServer{
		driver: driver,
		Logger: lognoop.NewNoOpLogger(),
	}
}

func (server *FtpServer) loadSettings() error {
	settings, err := server.driver.GetSettings()
	if err != nil || settings == nil {
		return NewDriverError(CategoryInternal, "couldn't load settings", err)
	}

	if settings.Listener == nil && settings.ListenAddr == "" {
		settings.ListenAddr = "0.0.0.0:2121"
	}

	if settings.IdleTimeout == 0 {
		settings.IdleTimeout = 900
	}

	if settings.ConnectionTimeout == 0 {
		settings.ConnectionTimeout = 30
	}

	if settings.Banner == "" {
		settings.Banner = "protoserver - FTP server ready"
	}

	server.settings = settings

	return nil
}

// Listen binds the listening socket. It is not blocking.
func (server *FtpServer) Listen() error {
	if err := server.loadSettings(); err != nil {
		return fmt.Errorf("could not load settings: %w", err)
	}

	if server.settings.Listener != nil {
		server.listener = server.settings.Listener
	} else {
		listener, err := server.createListener()
		if err != nil {
			return fmt.Errorf("could not create listener: %w", err)
		}

		server.listener = listener
	}

	server.Logger.Info("listening", "address", server.listener.Addr())

	return nil
}

func (server *FtpServer) createListener() (net.Listener, error) {
	lc := net.ListenConfig{Control: Control}

	listener, err := lc.Listen(context.Background(), "tcp", server.settings.ListenAddr)
	if err != nil {
		return nil, NewNetworkError("cannot listen on main port", err)
	}

	if server.settings.TLSRequired == ImplicitEncryption {
		tlsConfig, errConf := server.driver.GetTLSConfig()
		if errConf != nil || tlsConfig == nil {
			return nil, NewDriverError(CategoryInternal, "cannot get tls config", errConf)
		}

		listener = tls.NewListener(listener, tlsConfig)
	}

	return listener, nil
}

// Serve accepts and dispatches incoming connections until the listener closes.
func (server *FtpServer) Serve() error {
	var tempDelay time.Duration

	for {
		conn, err := server.listener.Accept()
		if err != nil {
			if stop, finalErr := server.handleAcceptError(err, &tempDelay); stop {
				return finalErr
			}

			continue
		}

		tempDelay = 0

		server.clientArrival(conn)
	}
}

func (server *FtpServer) handleAcceptError(err error, tempDelay *time.Duration) (bool, error) {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err.Error() == "use of closed network connection" {
		server.listener = nil

		return true, nil
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if *tempDelay == 0 {
			*tempDelay = 5 * time.Millisecond
		} else {
			*tempDelay *= 2
		}

		if max := time.Second; *tempDelay > max {
			*tempDelay = max
		}

		server.Logger.Warn("accept error, retrying", "err", err, "delay", *tempDelay)
		time.Sleep(*tempDelay)

		return false, nil
	}

	server.Logger.Error("listener accept error", err)

	return true, NewNetworkError("listener accept error", err)
}

// ListenAndServe chains Listen and Serve.
func (server *FtpServer) ListenAndServe() error {
	if err := server.Listen(); err != nil {
		return err
	}

	return server.Serve()
}

// Addr returns the listening address, or "" if not listening.
func (server *FtpServer) Addr() string {
	if server.listener != nil {
		return server.listener.Addr().String()
	}

	return ""
}

// Stop closes the listener. In-flight sessions finish on their own.
func (server *FtpServer) Stop() error {
	if server.listener == nil {
		return ErrNotListening
	}

	if err := server.listener.Close(); err != nil {
		return NewNetworkError("couldn't close listener", err)
	}

	return nil
}

func (server *FtpServer) clientArrival(conn net.Conn) {
	server.clientCounter++
	id := server.clientCounter

	s := server.newFTPSession(conn, id)
	go s.HandleCommands()

	s.logger.Debug("client connected", "clientIp", conn.RemoteAddr())
}

func (server *FtpServer) clientDeparture(s *FTPSession) {
	s.logger.Debug("client disconnected", "clientIp", s.conn.RemoteAddr())
}
