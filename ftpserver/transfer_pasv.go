package ftpserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	golog "github.com/fclairamb/go-log"
)

// passiveListenConfig sets SO_REUSEADDR/SO_REUSEPORT so a server restart
// doesn't have to wait out a lingering TIME_WAIT on a passive port.
var passiveListenConfig = net.ListenConfig{Control: Control} //nolint:gochecknoglobals

// passiveTransferHandler implements transferHandler for PASV/EPSV: it
// listens on an ephemeral (or range-restricted) port and
// accepts exactly one connection.
type passiveTransferHandler struct {
	listener    net.Listener
	tcpListener *net.TCPListener
	port        int
	connection  net.Conn
	settings    *Settings
	info        string
	logger      golog.Logger
}

func (s *FTPSession) getCurrentIP() ([]string, error) {
	ip := s.server.settings.PublicHost

	if ip == "" {
		if s.server.settings.PublicIPResolver != nil {
			var err error

			ip, err = s.server.settings.PublicIPResolver(s)
			if err != nil {
				return nil, fmt.Errorf("couldn't fetch public IP: %w", err)
			}
		} else {
			ip = strings.Split(s.conn.LocalAddr().String(), ":")[0]
		}
	}

	return strings.Split(ip, "."), nil
}

func (s *FTPSession) findListenerWithinPortRange(portRange *PortRange) (*net.TCPListener, error) {
	attempts := portRange.End - portRange.Start
	if attempts < 10 {
		attempts = 10
	} else if attempts > 1000 {
		attempts = 1000
	}

	for i := 0; i < attempts; i++ {
		port := portRange.Start + rand.Intn(portRange.End-portRange.Start+1) //nolint:gosec

		listener, errListen := passiveListenConfig.Listen(context.Background(), "tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if errListen == nil {
			if tcpListener, ok := listener.(*net.TCPListener); ok {
				return tcpListener, nil
			}

			listener.Close() //nolint:errcheck
		}
	}

	s.logger.Warn("could not find any free port",
		"attempts", attempts, "portRangeStart", portRange.Start, "portRangeEnd", portRange.End)

	return nil, ErrNoAvailableListeningPort
}

func (s *FTPSession) handlePASV(_ string) error {
	if s.epsvAllLatched() {
		s.writeMessage(StatusBadSequence, "EPSV ALL has been set, PASV is disallowed")

		return nil
	}

	return s.enterPassiveMode(false)
}

// epsvAllLatched reports whether EPSV ALL (RFC 2428 §3) was issued: once
// set, the session may only use EPSV for the rest of its data connections.
func (s *FTPSession) epsvAllLatched() bool {
	s.paramsMutex.RLock()
	defer s.paramsMutex.RUnlock()

	return s.epsvAllMode
}

func (s *FTPSession) handleEPSV(param string) error {
	if strings.EqualFold(strings.TrimSpace(param), "ALL") {
		s.paramsMutex.Lock()
		s.epsvAllMode = true
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "EPSV ALL accepted")

		return nil
	}

	return s.enterPassiveMode(true)
}

// enterPassiveMode implements PASV/EPSV: it opens a
// listening socket and latches it on the coordinator, replying with the
// address/port encoding appropriate to the command used.
func (s *FTPSession) enterPassiveMode(extended bool) error {
	var tcpListener *net.TCPListener

	var err error

	portRange := s.server.settings.PassiveTransferPortRange
	if portRange != nil {
		tcpListener, err = s.findListenerWithinPortRange(portRange)
	} else {
		var listener net.Listener

		listener, err = passiveListenConfig.Listen(context.Background(), "tcp", ":0")
		if err == nil {
			var ok bool

			tcpListener, ok = listener.(*net.TCPListener)
			if !ok {
				err = ErrNoAvailableListeningPort
			}
		}
	}

	if err != nil {
		s.logger.Error("could not listen for passive connection", "err", err)
		s.writeMessage(StatusServiceNotAvailable, fmt.Sprintf("Could not listen for passive connection: %v", err))

		return nil
	}

	var listener net.Listener = tcpListener

	if s.HasTLSForTransfers() || s.server.settings.TLSRequired == ImplicitEncryption {
		tlsConfig, errConf := s.server.driver.GetTLSConfig()
		if errConf != nil || tlsConfig == nil {
			s.writeMessage(StatusServiceNotAvailable, fmt.Sprintf("Cannot get a TLS config: %v", errConf))

			return nil
		}

		listener = tls.NewListener(tcpListener, tlsConfig)
	}

	handler := &passiveTransferHandler{
		tcpListener: tcpListener,
		listener:    listener,
		port:        tcpListener.Addr().(*net.TCPAddr).Port,
		settings:    s.server.settings,
		logger:      s.logger,
	}

	if extended {
		s.writeMessage(StatusEnteringEPSV, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", handler.port))
	} else {
		p1 := handler.port / 256
		p2 := handler.port - p1*256

		quads, errIP := s.getCurrentIP()
		if errIP != nil {
			s.writeMessage(StatusServiceNotAvailable, fmt.Sprintf("Could not listen for passive connection: %v", errIP))

			return nil
		}

		s.writeMessage(StatusEnteringPASV, fmt.Sprintf(
			"Entering Passive Mode (%s,%s,%s,%s,%d,%d)", quads[0], quads[1], quads[2], quads[3], p1, p2))
	}

	s.coordinator.latch(coordinatorModePassive, handler)

	return nil
}

func (p *passiveTransferHandler) connectionWait(wait time.Duration) (net.Conn, error) {
	if p.connection == nil {
		if err := p.tcpListener.SetDeadline(time.Now().Add(wait)); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}

		conn, err := p.listener.Accept()
		if err != nil {
			return nil, err
		}

		p.connection = conn
	}

	return p.connection, nil
}

func (p *passiveTransferHandler) Open() (net.Conn, error) {
	timeout := time.Duration(p.settings.ConnectionTimeout) * time.Second

	return p.connectionWait(timeout)
}

func (p *passiveTransferHandler) Close() error {
	if p.tcpListener != nil {
		if err := p.tcpListener.Close(); err != nil {
			p.logger.Warn("problem closing passive listener", "err", err)
		}
	}

	if p.connection != nil {
		if err := p.connection.Close(); err != nil {
			p.logger.Warn("problem closing passive connection", "err", err)
		}
	}

	return nil
}

func (p *passiveTransferHandler) GetInfo() string  { return p.info }
func (p *passiveTransferHandler) SetInfo(s string) { p.info = s }
