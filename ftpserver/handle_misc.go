package ftpserver

import (
	"fmt"
	"strings"
	"time"
)

func (s *FTPSession) handleSYST(_ string) error {
	s.writeMessage(StatusSystemType, "UNIX Type: L8")

	return nil
}

func (s *FTPSession) handleSTAT(param string) error {
	if param == "" {
		return s.handleSTATServer()
	}

	return s.handleSTATFile(param)
}

func (s *FTPSession) handleSTATServer() error {
	end := s.multilineAnswer(StatusSystemStatus, "Server status")
	defer end()

	duration := time.Now().UTC().Sub(s.connectedAt)
	duration -= duration % time.Second

	s.writeLine(fmt.Sprintf("Connected to %s from %s for %s",
		s.server.settings.ListenAddr, s.conn.RemoteAddr(), duration))

	s.paramsMutex.RLock()
	user := s.user
	authenticated := s.authenticated
	s.paramsMutex.RUnlock()

	if authenticated {
		s.writeLine(fmt.Sprintf("Logged in as %s", user))
	} else {
		s.writeLine("Not logged in yet")
	}

	s.writeLine(s.server.settings.Banner)

	return nil
}

func (s *FTPSession) handleSTATFile(param string) error {
	path := s.absPath(param)

	info, err := s.driver.Stat(path)
	if err != nil {
		s.writeMessage(StatusPermissionDenied, fmt.Sprintf("Could not stat %s: %v", path, err))

		return nil
	}

	if !info.IsDir() {
		end := s.multilineAnswer(StatusSystemStatus, path)
		defer end()
		s.writeLine(s.fileStat(info))

		return nil
	}

	files, err := s.listDirectory(path)
	if err != nil {
		s.writeMessage(StatusPermissionDenied, fmt.Sprintf("Could not list %s: %v", path, err))

		return nil
	}

	end := s.multilineAnswer(StatusSystemStatus, path)
	defer end()

	for _, f := range files {
		s.writeLine(s.fileStat(f))
	}

	return nil
}

func (s *FTPSession) handleHELP(param string) error {
	if param == "" {
		end := s.multilineAnswer(214, "The following commands are recognized")
		defer end()

		var names []string
		for name := range commandsMap {
			names = append(names, name)
		}

		s.writeLine(strings.Join(names, " "))

		return nil
	}

	cmd := strings.ToUpper(param)
	if _, ok := commandsMap[cmd]; ok {
		s.writeMessage(214, fmt.Sprintf("%s is supported", cmd))
	} else {
		s.writeMessage(StatusSyntaxErrorNotRecognised, fmt.Sprintf("unknown command %s", cmd))
	}

	return nil
}

func (s *FTPSession) handleNOOP(_ string) error {
	s.writeMessage(StatusOK, "OK")

	return nil
}

func (s *FTPSession) handleQUIT(_ string) error {
	s.writeMessage(StatusClosingControlConn, "Goodbye")
	s.disconnect()

	return nil
}

func (s *FTPSession) handleTYPE(param string) error {
	switch strings.ToUpper(strings.TrimSpace(param)) {
	case "A", "A N":
		s.paramsMutex.Lock()
		s.transferType = TransferTypeASCII
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Type set to ASCII")
	case "I", "L 8":
		s.paramsMutex.Lock()
		s.transferType = TransferTypeBinary
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Type set to binary")
	case "E":
		s.paramsMutex.Lock()
		s.transferType = TransferTypeEBCDIC
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Type set to EBCDIC (unsupported, treated as binary)")
	case "L":
		s.paramsMutex.Lock()
		s.transferType = TransferTypeLocal
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Type set to LOCAL")
	default:
		s.writeMessage(StatusSyntaxErrorParameters, "not understood")
	}

	return nil
}

func (s *FTPSession) handleMODE(param string) error {
	switch strings.ToUpper(strings.TrimSpace(param)) {
	case "S":
		s.paramsMutex.Lock()
		s.transferMode = TransferModeStream
		s.paramsMutex.Unlock()
		s.writeMessage(StatusOK, "Mode set to Stream")
	case "B", "C":
		// Block/compressed modes are explicit Non-goals.
		s.writeMessage(StatusNotImplementedParameter, "only Stream mode is supported")
	default:
		s.writeMessage(StatusSyntaxErrorParameters, "not understood")
	}

	return nil
}

func (s *FTPSession) handleSTRU(param string) error {
	switch strings.ToUpper(strings.TrimSpace(param)) {
	case "F":
		s.writeMessage(StatusOK, "Structure set to File")
	default:
		s.writeMessage(StatusNotImplementedParameter, "only File structure is supported")
	}

	return nil
}

func (s *FTPSession) handleABOR(_ string) error {
	s.coordinator.abort()
	s.writeMessage(StatusDataConnectionOpen, "abort successful")

	return nil
}

func (s *FTPSession) handleNotImplemented(_ string) error {
	s.writeMessage(StatusNotImplemented, "command not implemented")

	return nil
}
