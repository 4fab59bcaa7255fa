package ftpserver

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/fclairamb/protoserver/catalog"
)

func (s *FTPSession) handleCWD(param string) error {
	p := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpNavigate, p) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	if _, err := s.driver.Stat(p); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("CD issue: %v", err))

		return nil
	}

	s.SetPath(p)
	s.writeMessage(StatusFileOK, fmt.Sprintf("CD worked on %s", p))

	return nil
}

func (s *FTPSession) handleCDUP(_ string) error {
	parent, _ := path.Split(s.Path())
	if parent != "/" && strings.HasSuffix(parent, "/") {
		parent = parent[:len(parent)-1]
	}

	if !s.server.driver.IsAuthorized(s, OpNavigate, parent) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	if _, err := s.driver.Stat(parent); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("CDUP issue: %v", err))

		return nil
	}

	s.SetPath(parent)
	s.writeMessage(StatusFileOK, fmt.Sprintf("CDUP worked on %s", parent))

	return nil
}

func (s *FTPSession) handlePWD(_ string) error {
	if !s.server.driver.IsAuthorized(s, OpNavigate, s.Path()) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	s.writeMessage(StatusPathCreated, fmt.Sprintf(`"%s" is the current directory`, quoteDoubling(s.Path())))

	return nil
}

func (s *FTPSession) handleMKD(param string) error {
	p := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpCreateDir, p) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	if err := s.driver.Mkdir(p, 0o755); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf(`Could not create "%s": %v`, quoteDoubling(p), err))

		return nil
	}

	s.writeMessage(StatusPathCreated, fmt.Sprintf(`Created dir "%s"`, quoteDoubling(p)))

	return nil
}

func (s *FTPSession) handleRMD(param string) error {
	p := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpDeleteDir, p) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	var err error
	if rmd, ok := s.driver.(ClientDriverExtensionRemoveDir); ok {
		err = rmd.RemoveDir(p)
	} else {
		err = s.driver.Remove(p)
	}

	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not delete dir %s: %v", p, err))

		return nil
	}

	s.writeMessage(StatusFileOK, fmt.Sprintf("Deleted dir %s", p))

	return nil
}

func (s *FTPSession) handleLIST(param string) error {
	if !s.server.driver.IsAuthorized(s, OpRead, s.absPath(param)) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	files, err := s.listDirectory(s.absPath(param))
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not list: %v", err))

		return nil
	}

	s.coordinator.describe(TransferKindListing, s.absPath(param), false, 0)

	return s.runDataTransfer(fmt.Sprintf("LIST %s", param), func(conn net.Conn) error {
		for _, file := range files {
			if _, err := fmt.Fprintf(conn, "%s\r\n", s.fileStat(file)); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *FTPSession) handleNLST(param string) error {
	if !s.server.driver.IsAuthorized(s, OpRead, s.absPath(param)) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	files, err := s.listDirectory(s.absPath(param))
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not list: %v", err))

		return nil
	}

	s.coordinator.describe(TransferKindListing, s.absPath(param), false, 0)

	return s.runDataTransfer(fmt.Sprintf("NLST %s", param), func(conn net.Conn) error {
		for _, file := range files {
			if _, err := fmt.Fprintf(conn, "%s\r\n", file.Name()); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *FTPSession) handleMLSD(param string) error {
	if s.server.settings.DisableMLSD {
		s.writeMessage(StatusSyntaxErrorNotRecognised, "MLSD has been disabled")

		return nil
	}

	if !s.server.driver.IsAuthorized(s, OpRead, s.absPath(param)) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	files, err := s.listDirectory(s.absPath(param))
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not list: %v", err))

		return nil
	}

	s.coordinator.describe(TransferKindListing, s.absPath(param), false, 0)

	return s.runDataTransfer(fmt.Sprintf("MLSD %s", param), func(conn net.Conn) error {
		for _, file := range files {
			if _, err := fmt.Fprintf(conn, "%s\r\n", mlsxFacts(file)); err != nil {
				return err
			}
		}

		return nil
	})
}

// handleMLST implements RFC 3659 MLST: a single-file fact listing returned
// over the control connection, not a data connection.
func (s *FTPSession) handleMLST(param string) error {
	if s.server.settings.DisableMLSD {
		s.writeMessage(StatusSyntaxErrorNotRecognised, "MLST has been disabled")

		return nil
	}

	p := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpRead, p) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	info, err := s.driver.Stat(p)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not access %s: %v", p, err))

		return nil
	}

	end := s.multilineAnswer(250, "File details")
	defer end()

	s.writeLine(" " + mlsxFacts(info))

	return nil
}
