package ftpserver

import (
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// activeTransferHandler implements transferHandler for PORT/EPRT: it
// dials back to the address the client advertised.
type activeTransferHandler struct {
	raddr     *net.TCPAddr
	conn      net.Conn
	settings  *Settings
	tlsConfig *tls.Config
	info      string
}

func (s *FTPSession) handlePORT(param string) error {
	if s.epsvAllLatched() {
		s.writeMessage(StatusBadSequence, "EPSV ALL has been set, PORT is disallowed")

		return nil
	}

	if s.server.settings.DisableActiveMode {
		s.writeMessage(StatusServiceNotAvailable, "PORT command is disabled")

		return nil
	}

	raddr, err := parseRemoteAddr(param)
	if err != nil {
		s.writeMessage(StatusSyntaxErrorNotRecognised, fmt.Sprintf("Problem parsing PORT: %v", err))

		return nil
	}

	return s.latchActive(raddr)
}

func (s *FTPSession) handleEPRT(param string) error {
	if s.epsvAllLatched() {
		s.writeMessage(StatusBadSequence, "EPSV ALL has been set, EPRT is disallowed")

		return nil
	}

	if s.server.settings.DisableActiveMode {
		s.writeMessage(StatusServiceNotAvailable, "EPRT command is disabled")

		return nil
	}

	raddr, err := parseExtendedAddr(param)
	if err != nil {
		s.writeMessage(StatusSyntaxErrorNotRecognised, fmt.Sprintf("Problem parsing EPRT: %v", err))

		return nil
	}

	return s.latchActive(raddr)
}

func (s *FTPSession) latchActive(raddr *net.TCPAddr) error {
	var tlsConfig *tls.Config

	if s.HasTLSForTransfers() || s.server.settings.TLSRequired == ImplicitEncryption {
		var err error

		tlsConfig, err = s.server.driver.GetTLSConfig()
		if err != nil {
			s.writeMessage(StatusServiceNotAvailable, fmt.Sprintf("Cannot get a TLS config for active connection: %v", err))

			return nil
		}
	}

	s.coordinator.latch(coordinatorModeActive, &activeTransferHandler{
		raddr:     raddr,
		settings:  s.server.settings,
		tlsConfig: tlsConfig,
	})

	s.writeMessage(StatusOK, "PORT command successful")

	return nil
}

func (a *activeTransferHandler) Open() (net.Conn, error) {
	timeout := time.Duration(a.settings.ConnectionTimeout) * time.Second
	dialer := &net.Dialer{Timeout: timeout}

	if !a.settings.ActiveTransferPortNon20 {
		dialer.LocalAddr, _ = net.ResolveTCPAddr("tcp", ":20")
	}

	conn, err := dialer.Dial("tcp", a.raddr.String())
	if err != nil {
		return nil, fmt.Errorf("could not establish active connection: %w", err)
	}

	if a.tlsConfig != nil {
		conn = tls.Server(conn, a.tlsConfig)
	}

	a.conn = conn

	return a.conn, nil
}

func (a *activeTransferHandler) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}

	return nil
}

func (a *activeTransferHandler) GetInfo() string  { return a.info }
func (a *activeTransferHandler) SetInfo(s string) { a.info = s }

var remoteAddrRegex = regexp.MustCompile(`^([0-9]{1,3},){5}[0-9]{1,3}$`)

// parseRemoteAddr parses the legacy PORT argument (RFC 959 p.40):
// "h1,h2,h3,h4,p1,p2" where port = p1*256 + p2.
func parseRemoteAddr(param string) (*net.TCPAddr, error) {
	if !remoteAddrRegex.MatchString(param) {
		return nil, fmt.Errorf("could not parse %q: %w", param, ErrRemoteAddrFormat)
	}

	parts := strings.Split(param, ",")
	ip := strings.Join(parts[0:4], ".")

	p1, err := strconv.Atoi(parts[4])
	if err != nil {
		return nil, err
	}

	p2, err := strconv.Atoi(parts[5])
	if err != nil {
		return nil, err
	}

	port := p1<<8 + p2

	return net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", ip, port))
}

// parseExtendedAddr parses the EPRT argument (RFC 2428 §2):
// "|<net-prt>|<net-addr>|<tcp-port>|", net-prt 1 for IPv4, 2 for IPv6.
func parseExtendedAddr(param string) (*net.TCPAddr, error) {
	if len(param) < 3 {
		return nil, fmt.Errorf("could not parse %q: %w", param, ErrRemoteAddrFormat)
	}

	delim := param[0:1]
	parts := strings.Split(param, delim)

	// parts[0] is empty (leading delimiter); parts[1]=net-prt, [2]=addr, [3]=port
	if len(parts) < 4 {
		return nil, fmt.Errorf("could not parse %q: %w", param, ErrRemoteAddrFormat)
	}

	addr := parts[2]

	port, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("could not parse port in %q: %w", param, ErrRemoteAddrFormat)
	}

	return net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", addr, port))
}
