package ftpserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	golog "github.com/fclairamb/go-log"

	"github.com/fclairamb/protoserver/telemetry"
)

// TransferType is the representation type selected by TYPE.
type TransferType int

// Supported representation types. EBCDIC and LOCAL are accepted by TYPE
// for RFC 959 compliance but are Non-goals beyond replying OK.
const (
	TransferTypeASCII TransferType = iota
	TransferTypeBinary
	TransferTypeEBCDIC
	TransferTypeLocal
)

// TransferMode is the transfer mode selected by MODE. Block/compressed are
// explicit Non-goals; only Stream is actually driven by the coordinator.
type TransferMode int

// Supported transfer modes.
const (
	TransferModeStream TransferMode = iota
	TransferModeBlock
	TransferModeCompressed
)

// FTPSession is the per-control-connection state.
// nolint: maligned
type FTPSession struct {
	id          uint32
	server      *FtpServer
	driver      ClientDriver
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	logger      golog.Logger
	span        *telemetry.Span
	connectedAt time.Time

	paramsMutex sync.RWMutex // guards every field below this line

	user             string
	password         string
	account          string
	currentDirectory string
	authenticated    bool
	renameFrom       string
	restartOffset    int64
	transferType     TransferType
	transferMode     TransferMode
	epsvAllMode      bool
	pbszSet          bool
	dataProtection   bool
	authUsed         bool
	controlTLS       bool
	transferTLS      bool
	lastCommand      string
	debug            bool
	metadata         map[string]string

	coordinator *dataConnectionCoordinator

	transferWg sync.WaitGroup // serializes transfer-opening commands
}

// newFTPSession initializes a session when a client connects.
func (server *FtpServer) newFTPSession(conn net.Conn, id uint32) *FTPSession {
	s := &FTPSession{
		server:           server,
		conn:             conn,
		id:               id,
		reader:           bufio.NewReader(conn),
		writer:           bufio.NewWriter(conn),
		connectedAt:      time.Now().UTC(),
		currentDirectory: "/",
		transferType:     server.settings.DefaultTransferType,
		logger:           server.Logger.With("clientId", id),
		metadata:         make(map[string]string),
	}
	s.coordinator = newDataConnectionCoordinator(s)
	s.span = telemetry.StartSession("ftp", conn.RemoteAddr().String())

	return s
}

// Path implements ClientContext.
func (s *FTPSession) Path() string {
	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.currentDirectory
}

// SetPath changes the current working directory.
func (s *FTPSession) SetPath(value string) {
	s.paramsMutex.Lock()
	defer s.paramsMutex.Unlock()

	s.currentDirectory = value
}

// Debug implements ClientContext.
func (s *FTPSession) Debug() bool {
	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.debug
}

// SetDebug implements ClientContext.
func (s *FTPSession) SetDebug(debug bool) {
	s.paramsMutex.Lock()
	defer s.paramsMutex.Unlock()

	s.debug = debug
}

// ID implements ClientContext.
func (s *FTPSession) ID() uint32 { return s.id }

// RemoteAddr implements ClientContext.
func (s *FTPSession) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr implements ClientContext.
func (s *FTPSession) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// User implements ClientContext.
func (s *FTPSession) User() string {
	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.user
}

// HasTLSForControl implements ClientContext.
func (s *FTPSession) HasTLSForControl() bool {
	if s.server.settings.TLSRequired == ImplicitEncryption {
		return true
	}

	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.controlTLS
}

// HasTLSForTransfers implements ClientContext.
func (s *FTPSession) HasTLSForTransfers() bool {
	if s.server.settings.TLSRequired == ImplicitEncryption {
		return true
	}

	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.dataProtection
}

// GetLastCommand implements ClientContext.
func (s *FTPSession) GetLastCommand() string {
	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.lastCommand
}

func (s *FTPSession) setLastCommand(cmd string) {
	s.paramsMutex.Lock()
	defer s.paramsMutex.Unlock()

	s.lastCommand = cmd
}

// Close implements ClientContext: it aborts any in-flight transfer and
// closes the control connection.
func (s *FTPSession) Close() error {
	s.coordinator.cleanup()

	return s.conn.Close()
}

func (s *FTPSession) disconnect() {
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("problem disconnecting a client", "err", err)
	}
}

// end runs the fixed teardown order: telemetry span end,
// then coordinator cleanup, then the handler's disconnected notification,
// then the transport close.
func (s *FTPSession) end() {
	s.span.End()
	s.coordinator.cleanup()
	s.server.driver.ClientDisconnected(s)
	s.server.clientDeparture(s)
	_ = s.conn.Close()
}

// HandleCommands reads the stream of commands until disconnection.
func (s *FTPSession) HandleCommands() {
	defer s.end()

	banner, err := s.server.driver.ClientConnected(s)
	if err != nil {
		s.writeMessage(StatusServiceNotAvailable, banner)

		return
	}

	s.writeMessage(StatusServiceReady, banner)

	maxLine := s.server.settings.MaxLineLength
	if maxLine <= 0 {
		maxLine = maxFTPLineLength
	}

	for {
		if s.server.settings.IdleTimeout > 0 {
			deadline := time.Now().Add(time.Duration(s.server.settings.IdleTimeout) * time.Second)
			if err := s.conn.SetDeadline(deadline); err != nil {
				s.logger.Error("network error", "err", err)
			}
		}

		line, err := s.readCommandLine(maxLine)
		if err != nil {
			s.handleStreamError(err)

			return
		}

		if line == "" {
			continue
		}

		s.handleCommand(line)
	}
}

// maxFTPLineLength is the 1024 + 2 (CRLF) line length default.
const maxFTPLineLength = 1024 + 2

// readCommandLine implements the line framer: it
// accumulates bytes until CRLF, rejecting any line over maxLine with a
// discard-until-CRLF recovery instead of tearing down the connection.
func (s *FTPSession) readCommandLine(maxLine int) (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", err
		}

		if len(line) > maxLine {
			s.discardOverlongLine(line, maxLine)
			s.writeMessage(StatusSyntaxErrorNotRecognised, "line too long")

			continue
		}

		if s.debug {
			s.logger.Debug("received line", "line", line)
		}

		return line, nil
	}
}

// discardOverlongLine drains bytes already buffered past maxLine until the
// next CRLF, so a client with one absurdly long line doesn't desync
// command framing forever.
func (s *FTPSession) discardOverlongLine(line string, maxLine int) {
	for !strings.HasSuffix(line, "\n") {
		var err error

		line, err = s.reader.ReadString('\n')
		if err != nil {
			return
		}

		_ = maxLine // already past the limit; just looking for the terminator
	}
}

func (s *FTPSession) handleStreamError(err error) {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.logger.Info("client idle timeout", "err", err)
		s.writeMessage(StatusServiceNotAvailable, fmt.Sprintf(
			"command timeout (%d seconds): closing control connection", s.server.settings.IdleTimeout))
		_ = s.writer.Flush()
		_ = s.conn.Close()

		return
	}

	if s.debug {
		s.logger.Debug("client disconnected", "err", err)
	}
}

// handleCommand parses and dispatches one command line.
func (s *FTPSession) handleCommand(line string) {
	command, param := parseLine(line)
	command = strings.ToUpper(command)

	desc := commandsMap[command]
	if desc == nil {
		s.setLastCommand(command)
		s.writeMessage(StatusSyntaxErrorNotRecognised, fmt.Sprintf("command unrecognized: %s", command))

		return
	}

	s.paramsMutex.RLock()
	authenticated := s.authenticated
	s.paramsMutex.RUnlock()

	if !desc.Open && !authenticated {
		s.writeMessage(StatusNotLoggedIn, "Please login with USER and PASS")

		return
	}

	if !desc.SpecialAction {
		s.transferWg.Wait()
	}

	s.setLastCommand(command)

	if desc.TransferRelated {
		s.transferWg.Add(1)

		go func() {
			defer s.transferWg.Done()
			s.executeCommand(desc, command, param)
		}()
	} else {
		s.executeCommand(desc, command, param)
	}
}

func (s *FTPSession) executeCommand(desc *CommandDescription, command, param string) {
	defer func() {
		if r := recover(); r != nil {
			s.writeMessage(StatusSyntaxErrorNotRecognised, fmt.Sprintf("unhandled internal error: %v", r))
			s.logger.Warn("internal command handling error", "err", r, "command", command)
		}
	}()

	if err := desc.Fn(s, param); err != nil {
		cat := categoryOf(err)
		s.writeMessage(replyCodeForCategory(cat), err.Error())
	}
}

func parseLine(line string) (string, string) {
	trimmed := strings.TrimRight(line, "\r\n")

	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}

	return parts[0], parts[1]
}

func (s *FTPSession) writeLine(line string) {
	if s.debug {
		s.logger.Debug("sending answer", "line", line)
	}

	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		s.logger.Warn("answer couldn't be sent", "line", line, "err", err)
	}

	if err := s.writer.Flush(); err != nil {
		s.logger.Warn("couldn't flush line", "err", err)
	}
}

// writeMessage writes a (possibly multi-line) reply. Every line but the
// last uses "CODE-text"; the last uses "CODE text".
func (s *FTPSession) writeMessage(code int, message string) {
	lines := splitMessageLines(message)

	for idx, line := range lines {
		if idx < len(lines)-1 {
			s.writeLine(fmt.Sprintf("%d-%s", code, line))
		} else {
			s.writeLine(fmt.Sprintf("%d %s", code, line))
		}
	}
}

// multilineAnswer starts a multi-line reply and returns a closer that
// emits the final "CODE End" line.
func (s *FTPSession) multilineAnswer(code int, message string) func() {
	s.writeLine(fmt.Sprintf("%d-%s", code, message))

	return func() {
		s.writeLine(fmt.Sprintf("%d End", code))
	}
}

func splitMessageLines(message string) []string {
	lines := strings.Split(message, "\n")
	if len(lines) == 0 {
		return []string{""}
	}

	return lines
}

func (s *FTPSession) absPath(p string) string {
	if p == "" {
		return s.Path()
	}

	if strings.HasPrefix(p, "/") {
		return cleanPath(p)
	}

	return cleanPath(s.Path() + "/" + p)
}
