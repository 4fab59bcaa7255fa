package ftpserver

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
)

// handleAUTH implements RFC 4217 AUTH TLS/SSL. AUTH may be
// issued at most once per session (tracked via authUsed).
func (s *FTPSession) handleAUTH(param string) error {
	mech := strings.ToUpper(strings.TrimSpace(param))
	if mech != "TLS" && mech != "SSL" {
		s.writeMessage(StatusNotImplementedParameter, "only AUTH TLS/SSL are supported")

		return nil
	}

	s.paramsMutex.RLock()
	alreadySecure := s.controlTLS
	used := s.authUsed
	s.paramsMutex.RUnlock()

	if alreadySecure {
		s.writeMessage(StatusBadSequence, "already using TLS")

		return nil
	}

	if used {
		s.writeMessage(StatusBadSequence, "AUTH already issued")

		return nil
	}

	tlsConfig, err := s.server.driver.GetTLSConfig()
	if err != nil || tlsConfig == nil {
		s.writeMessage(StatusTLSHandshakeFailed, "TLS is not available")

		return nil
	}

	s.writeMessage(StatusAuthAccepted, fmt.Sprintf("AUTH %s successful", mech))

	s.conn = tls.Server(s.conn, tlsConfig)
	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	s.paramsMutex.Lock()
	s.controlTLS = true
	s.authUsed = true
	s.pbszSet = false
	s.dataProtection = false
	s.paramsMutex.Unlock()

	return nil
}

// handlePBSZ implements PBSZ: requires a secure control
// connection; the reply is always "200 PBSZ=0" since TLS mandates 0.
func (s *FTPSession) handlePBSZ(param string) error {
	if !s.HasTLSForControl() {
		s.writeMessage(StatusBadSequence, "PBSZ requires a secure control connection")

		return nil
	}

	if _, err := strconv.Atoi(strings.TrimSpace(param)); err != nil {
		s.writeMessage(StatusSyntaxErrorParameters, "PBSZ requires a numeric argument")

		return nil
	}

	s.paramsMutex.Lock()
	s.pbszSet = true
	s.paramsMutex.Unlock()

	s.writeMessage(StatusOK, "PBSZ=0")

	return nil
}

// handlePROT implements PROT: requires PBSZ to have been
// issued on a secure connection. C clears dataProtection, P sets it; S/E
// are syntactically valid but unsupported (536), anything else is 504.
func (s *FTPSession) handlePROT(param string) error {
	if !s.HasTLSForControl() {
		s.writeMessage(StatusBadSequence, "PROT requires a secure control connection")

		return nil
	}

	s.paramsMutex.RLock()
	pbszSet := s.pbszSet
	s.paramsMutex.RUnlock()

	if !pbszSet {
		s.writeMessage(StatusBadSequence, "PBSZ must precede PROT")

		return nil
	}

	level := strings.ToUpper(strings.TrimSpace(param))

	switch level {
	case "C":
		s.paramsMutex.Lock()
		s.dataProtection = false
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Protection set to Clear")
	case "P":
		s.paramsMutex.Lock()
		s.dataProtection = true
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Protection set to Private")
	case "S", "E":
		s.writeMessage(536, "protection level not supported")
	default:
		s.writeMessage(StatusNotImplementedParameter, "unknown protection level")
	}

	return nil
}

// handleCCC implements CCC: unsupported.
func (s *FTPSession) handleCCC(_ string) error {
	s.writeMessage(533, "CCC is not supported")

	return nil
}

// handleFEAT implements RFC 2389 FEAT.
func (s *FTPSession) handleFEAT(_ string) error {
	end := s.multilineAnswer(StatusSystemStatus, "Extensions supported")
	defer end()

	s.writeLine(" EPRT")
	s.writeLine(" EPSV")
	s.writeLine(" UTF8")
	s.writeLine(" SIZE")
	s.writeLine(" MDTM")
	s.writeLine(" REST STREAM")
	s.writeLine(" TVFS")

	if !s.server.settings.DisableMLSD {
		s.writeLine(" MLST Type*;Size*;Modify*;")
		s.writeLine(" MLSD")
	}

	tlsConfig, err := s.server.driver.GetTLSConfig()
	haveTLS := err == nil && tlsConfig != nil

	s.paramsMutex.RLock()
	secure := s.controlTLS
	s.paramsMutex.RUnlock()

	if haveTLS && !secure {
		s.writeLine(" AUTH TLS")
		s.writeLine(" AUTH SSL")
	}

	if secure {
		s.writeLine(" PBSZ")
		s.writeLine(" PROT")
	}

	if s.server.driver.GetQuotaManager() != nil {
		s.writeLine(" SITE QUOTA")
	}

	return nil
}
