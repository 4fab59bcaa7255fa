package imapserver

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	golog "github.com/fclairamb/go-log"
	lognoop "github.com/fclairamb/go-log/noop"

	"github.com/fclairamb/protoserver/telemetry"
)

// Settings configures an IMAPServer.
type Settings struct {
	ListenAddr  string
	Listener    net.Listener
	IdleTimeout time.Duration // command-loop read deadline, not the IDLE command
	TLSConfig   *tls.Config   // non-nil enables STARTTLS
}

// IMAPServer is the top-level listener: one handler produces the greeting
// and the NOT_AUTH stage for every new Conn.
type IMAPServer struct {
	Logger        golog.Logger
	settings      *Settings
	listener      net.Listener
	clientCounter uint32
	handler       ClientConnectedHandler
	realm         Realm
}

// NewIMAPServer creates a server that hands every new connection to handler,
// with realm resolving LOGIN/AUTHENTICATE credentials into a principal.
func NewIMAPServer(handler ClientConnectedHandler, realm Realm, settings *Settings) *IMAPServer {
	if settings == nil {
		settings = &Settings{}
	}

	if settings.ListenAddr == "" {
		settings.ListenAddr = "0.0.0.0:1143"
	}

	if settings.IdleTimeout == 0 {
		settings.IdleTimeout = 30 * time.Minute
	}

	return &IMAPServer{
		Logger:   lognoop.NewNoOpLogger(),
		handler:  handler,
		realm:    realm,
		settings: settings,
	}
}

// Listen binds the listening socket without blocking.
func (server *IMAPServer) Listen() error {
	if server.settings.Listener != nil {
		server.listener = server.settings.Listener

		return nil
	}

	listener, err := net.Listen("tcp", server.settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}

	server.listener = listener
	server.Logger.Info("listening", "address", listener.Addr())

	return nil
}

// Serve accepts and dispatches connections until the listener closes.
func (server *IMAPServer) Serve() error {
	var tempDelay time.Duration

	for {
		netConn, err := server.listener.Accept()
		if err != nil {
			if stop, finalErr := server.handleAcceptError(err, &tempDelay); stop {
				return finalErr
			}

			continue
		}

		tempDelay = 0
		server.clientCounter++
		conn := server.newConn(netConn, server.clientCounter)

		go conn.serve()
	}
}

func (server *IMAPServer) handleAcceptError(err error, tempDelay *time.Duration) (bool, error) {
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

	return true, fmt.Errorf("listener accept error: %w", err)
}

// ListenAndServe chains Listen and Serve.
func (server *IMAPServer) ListenAndServe() error {
	if err := server.Listen(); err != nil {
		return err
	}

	return server.Serve()
}

// Addr returns the listening address, or "" if not listening.
func (server *IMAPServer) Addr() string {
	if server.listener != nil {
		return server.listener.Addr().String()
	}

	return ""
}

// Stop closes the listener. In-flight sessions finish on their own.
func (server *IMAPServer) Stop() error {
	if server.listener == nil {
		return errors.New("server is not listening")
	}

	return server.listener.Close()
}

// sessionStage is the three-stage ladder of RFC 9051 §3: NOT_AUTH, AUTH,
// SELECTED, plus LOGOUT once the session is tearing down.
type sessionStage int

const (
	stageNotAuthenticated sessionStage = iota
	stageAuthenticated
	stageSelected
	stageLogout
)

// Conn is one IMAP client connection: the line-and-literal framer plus
// whichever handler stage is currently active.
type Conn struct {
	id          uint32
	server      *IMAPServer
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	logger      golog.Logger
	span        *telemetry.Span
	connectedAt time.Time

	mu sync.Mutex // guards every field below

	stage      sessionStage
	notAuth    NotAuthenticatedHandler
	auth       AuthenticatedHandler
	selected   SelectedHandler
	mailbox    string
	readOnly   bool
	principal  string
	idling     bool
	tlsUpgraded bool
}

func (server *IMAPServer) newConn(netConn net.Conn, id uint32) *Conn {
	return &Conn{
		id:          id,
		server:      server,
		conn:        netConn,
		reader:      bufio.NewReader(netConn),
		writer:      bufio.NewWriter(netConn),
		connectedAt: time.Now().UTC(),
		logger:      server.Logger.With("clientId", id),
		span:        telemetry.StartSession("imap", netConn.RemoteAddr().String()),
	}
}

// ID returns the per-server connection sequence number.
func (c *Conn) ID() uint32 { return c.id }

// RemoteAddr is the client's address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Principal is the authenticated identity, or "" before login.
func (c *Conn) Principal() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.principal
}

// Mailbox is the currently selected mailbox name, or "" in AUTH/NOT_AUTH.
func (c *Conn) Mailbox() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mailbox
}

// StartTLS upgrades the connection in place; dispatch.go calls this from
// the STARTTLS handler once the plaintext commands accepted before it are
// drained (RFC 9051 §6.2.1 forbids buffered-command injection across the
// TLS boundary, so STARTTLS is refused if the read buffer is non-empty).
func (c *Conn) StartTLS(config *tls.Config) error {
	if c.reader.Buffered() > 0 {
		return errors.New("pipelined data present before STARTTLS")
	}

	tlsConn := tls.Server(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake failed: %w", err)
	}

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)

	c.mu.Lock()
	c.tlsUpgraded = true
	c.mu.Unlock()

	return nil
}

// HasTLS reports whether the control connection is encrypted, whether by
// an implicit-TLS listener or a completed STARTTLS.
func (c *Conn) HasTLS() bool {
	if _, ok := c.conn.(*tls.Conn); ok {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tlsUpgraded
}

func (c *Conn) serve() {
	defer c.end()

	state := &ConnectedState{}
	c.server.handler.Connected(c, state)

	switch state.kind {
	case transitionOK:
		if state.auth != nil {
			c.mu.Lock()
			c.stage = stageAuthenticated
			c.auth = state.auth
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.stage = stageNotAuthenticated
			c.notAuth = state.notAuth
			c.mu.Unlock()
		}

		c.writeUntagged(fmt.Sprintf("OK %s", orDefault(state.msg, state.greeting)))
	case transitionShuttingDown:
		c.writeUntagged("BYE server shutting down")

		return
	default:
		c.writeUntagged(fmt.Sprintf("BYE %s", orDefault(state.msg, "connection refused")))

		return
	}

	c.loop()
}

func orDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}

	if fallback != "" {
		return fallback
	}

	return "IMAP4rev2 Service Ready"
}

func (c *Conn) loop() {
	for {
		c.mu.Lock()
		done := c.stage == stageLogout
		idleTimeout := c.server.settings.IdleTimeout
		c.mu.Unlock()

		if done {
			return
		}

		if idleTimeout > 0 {
			if err := c.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
				c.logger.Error("network error", err)
			}
		}

		line, err := c.readLine()
		if err != nil {
			c.handleStreamError(err)

			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		c.dispatchLine(line)
	}
}

func (c *Conn) handleStreamError(err error) {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.writeUntagged("BYE autologout; idle for too long")
		_ = c.writer.Flush()
		_ = c.conn.Close()

		return
	}

	if !errors.Is(err, io.EOF) {
		c.logger.Debug("client disconnected", "err", err)
	}
}

// readLine reads one CRLF-terminated line. Mid-line literals ("{n}" or
// "{n+}" trailers) are handled by the caller via readLiteral, since only a
// handful of commands (APPEND chief among them) carry one.
func (c *Conn) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// readLiteral reads exactly n bytes of literal data (RFC 9051 §4.3).
func (c *Conn) readLiteral(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, fmt.Errorf("reading literal: %w", err)
	}

	return buf, nil
}

func (c *Conn) writeRaw(line string) {
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		c.logger.Warn("answer couldn't be sent", "line", line, "err", err)
	}

	if err := c.writer.Flush(); err != nil {
		c.logger.Warn("couldn't flush line", "err", err)
	}
}

func (c *Conn) writeUntagged(text string) { c.writeRaw("* " + text) }

func (c *Conn) writeContinuation(text string) { c.writeRaw("+ " + text) }

func (c *Conn) writeTagged(tag, status, text string) {
	c.writeRaw(fmt.Sprintf("%s %s %s", tag, status, text))
}

// writeTransition renders a transition as a tagged response for tag,
// prefixing text with the RFC 9051 response code in brackets when set.
func (c *Conn) writeTransition(tag string, t *transition, okText string) {
	switch t.kind {
	case transitionOK:
		c.writeTagged(tag, "OK", withCode(t.code, orDefault(t.msg, okText)))
	case transitionNo:
		c.writeTagged(tag, "NO", withCode(t.code, orDefault(t.msg, "failed")))
	case transitionBad:
		c.writeTagged(tag, "BAD", orDefault(t.msg, "failed"))
	case transitionShuttingDown:
		c.writeUntagged("BYE server shutting down")
		c.writeTagged(tag, "BAD", "server shutting down")

		c.mu.Lock()
		c.stage = stageLogout
		c.mu.Unlock()
	default:
		c.writeTagged(tag, "BAD", "internal error: handler did not resolve a state")
	}
}

func withCode(code, text string) string {
	if code == "" {
		return text
	}

	return fmt.Sprintf("[%s] %s", code, text)
}

func (c *Conn) end() {
	c.span.End()
	c.disconnect()
}

func (c *Conn) disconnect() {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("problem disconnecting a client", "err", err)
	}
}

// SequenceSet wraps go-imap's sequence-number/UID set grammar (RFC 9051
// §9 sequence-set), parsed once by the command handlers in selected.go and
// handed unmodified to SelectedHandler methods.
type SequenceSet struct {
	*imap.SeqSet
}

func parseSequenceSet(raw string) (*SequenceSet, error) {
	set, err := imap.ParseSeqSet(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence set %q: %w", raw, err)
	}

	return &SequenceSet{SeqSet: set}, nil
}

func formatUint(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
