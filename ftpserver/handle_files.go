package ftpserver

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/fclairamb/protoserver/catalog"
	"github.com/fclairamb/protoserver/quota"
	"github.com/fclairamb/protoserver/telemetry"
)

func (s *FTPSession) handleRETR(param string) error {
	return s.transferFile(param, OpRead, os.O_RDONLY, TransferKindDownload)
}

func (s *FTPSession) handleSTOR(param string) error {
	return s.transferFile(param, OpWrite, os.O_WRONLY|os.O_CREATE, TransferKindUpload)
}

func (s *FTPSession) handleAPPE(param string) error {
	return s.transferFile(param, OpWrite, os.O_WRONLY|os.O_APPEND|os.O_CREATE, TransferKindUpload)
}

// handleSTOU implements STOU: the driver picks the name, the
// reply echoes it per RFC 959 §4.1.3, and the transfer otherwise behaves
// like STOR.
func (s *FTPSession) handleSTOU(param string) error {
	dir := s.absPath(param)

	namer, ok := s.driver.(ClientDriverExtensionUniqueName)
	if !ok {
		s.writeMessage(StatusCommandNotImplemented, "STOU is not supported by this driver")

		return nil
	}

	name, err := namer.GenerateUniqueName(dir)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not generate unique name: %v", err))

		return nil
	}

	s.writeMessage(StatusFileActionPending, fmt.Sprintf("FILE: %s", name))

	return s.transferFileAt(name, OpWrite, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fmt.Sprintf("STOU %s", name), TransferKindStoreUnique)
}

func (s *FTPSession) transferFile(param string, op OperationType, flags int, kind TransferKind) error {
	path := s.absPath(param)

	return s.transferFileAt(path, op, flags, fmt.Sprintf("%s %s", s.GetLastCommand(), param), kind)
}

// transferFileAt runs the full RETR/STOR/APPE/STOU sequence: authorization,
// quota (on writes), restart-offset seek, data-connection open, stream,
// close. kind records which of RETR/STOR/STOU this is on the coordinator's
// PendingTransfer, ahead of the data connection even opening.
func (s *FTPSession) transferFileAt(path string, op OperationType, flags int, info string, kind TransferKind) error {
	write := flags&(os.O_WRONLY|os.O_RDWR) != 0

	if !s.server.driver.IsAuthorized(s, op, path) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	restartOffset := s.takeRestartOffset()

	if write && restartOffset == 0 && flags&os.O_APPEND == 0 {
		flags |= os.O_TRUNC
	}

	if write {
		if qm := s.server.driver.GetQuotaManager(); qm != nil && !qm.CanStore(s.User(), 0) {
			usage, errUsage := qm.Usage(s.User())

			child := s.span.StartChild("quota")
			child.Fail(telemetry.CategoryLimitExceeded, quota.ErrQuotaExceeded)

			if errUsage != nil {
				s.writeMessage(StatusActionAborted, catalog.Default.Format("quota.exceeded", int64(0), int64(0)))

				return nil
			}

			s.writeMessage(StatusActionAborted, catalog.Default.Format("quota.exceeded", usage.Used, usage.Limit))

			return nil
		}
	}

	file, err := s.getFileHandle(path, flags, restartOffset)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, "Could not access file: "+err.Error())

		return nil
	}

	if restartOffset != 0 {
		if _, err := file.Seek(restartOffset, 0); err != nil {
			s.writeMessage(StatusActionNotTaken, "Could not seek file: "+err.Error())
			s.closeUnchecked(file)

			return nil
		}
	}

	s.coordinator.describe(kind, path, flags&os.O_APPEND != 0, restartOffset)
	s.server.driver.TransferStarting(s, path, write, -1)

	var transferred int64

	err = s.runDataTransfer(info, func(conn net.Conn) error {
		var errStream error

		transferred, errStream = s.streamFile(conn, file, write, path)

		return errStream
	})

	if errClose := file.Close(); errClose != nil && err == nil && write {
		err = errClose
	}

	s.server.driver.TransferCompleted(s, path, write, transferred, err == nil)

	return nil
}

// takeRestartOffset consumes and resets the REST offset; RFC 959 states it
// applies to exactly the next transfer command.
func (s *FTPSession) takeRestartOffset() int64 {
	s.paramsMutex.Lock()
	defer s.paramsMutex.Unlock()

	offset := s.restartOffset
	s.restartOffset = 0

	return offset
}

func (s *FTPSession) getFileHandle(path string, flags int, offset int64) (FileTransfer, error) {
	if ext, ok := s.driver.(ClientDriverExtensionTransfer); ok {
		return ext.GetHandle(path, flags, offset)
	}

	return s.driver.OpenFile(path, flags, 0644)
}

func (s *FTPSession) closeUnchecked(file FileTransfer) {
	if err := file.Close(); err != nil {
		s.logger.Warn("problem closing file", "err", err)
	}
}

func (s *FTPSession) handleDELE(param string) error {
	path := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpDelete, path) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	if err := s.driver.Remove(path); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Couldn't delete %s: %v", path, err))

		return nil
	}

	s.writeMessage(StatusFileOK, fmt.Sprintf("Removed file %s", path))

	return nil
}

func (s *FTPSession) handleRNFR(param string) error {
	path := s.absPath(param)

	if _, err := s.driver.Stat(path); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Couldn't access %s: %v", path, err))

		return nil
	}

	s.paramsMutex.Lock()
	s.renameFrom = path
	s.paramsMutex.Unlock()

	s.writeMessage(StatusFileActionPending, "Sure, give me a target")

	return nil
}

func (s *FTPSession) handleRNTO(param string) error {
	s.paramsMutex.Lock()
	from := s.renameFrom
	s.renameFrom = ""
	s.paramsMutex.Unlock()

	if from == "" {
		s.writeMessage(StatusBadSequence, "RNFR is expected before RNTO")

		return nil
	}

	to := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpRename, to) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	if err := s.driver.Rename(from, to); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Couldn't rename %s to %s: %v", from, to, err))

		return nil
	}

	s.writeMessage(StatusFileOK, "Done!")

	return nil
}

func (s *FTPSession) handleALLO(param string) error {
	if ext, ok := s.driver.(ClientDriverExtensionAllocate); ok {
		size, err := strconv.Atoi(strings.Fields(param)[0])
		if err == nil {
			if errAlloc := ext.AllocateSpace(size); errAlloc != nil {
				s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not allocate: %v", errAlloc))

				return nil
			}
		}
	}

	s.writeMessage(StatusOK, "ALLO command successful")

	return nil
}

func (s *FTPSession) handleREST(param string) error {
	offset, err := strconv.ParseInt(param, 10, 64)
	if err != nil || offset < 0 {
		s.writeMessage(StatusSyntaxErrorParameters, "invalid REST offset")

		return nil
	}

	s.paramsMutex.Lock()
	s.restartOffset = offset
	s.paramsMutex.Unlock()

	s.writeMessage(StatusFileActionPending, fmt.Sprintf("Restarting at %d", offset))

	return nil
}

// handleSIZE implements RFC 3659 SIZE. ASCII mode is refused because an
// accurate size would require translating the whole file.
func (s *FTPSession) handleSIZE(param string) error {
	s.paramsMutex.RLock()
	ascii := s.transferType == TransferTypeASCII
	s.paramsMutex.RUnlock()

	if ascii {
		s.writeMessage(StatusActionNotTaken, "SIZE not allowed in ASCII mode")

		return nil
	}

	path := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpRead, path) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	info, err := s.driver.Stat(path)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not access %s: %v", path, err))

		return nil
	}

	s.writeMessage(213, strconv.FormatInt(info.Size(), 10))

	return nil
}

// handleMDTM implements RFC 3659 MDTM.
func (s *FTPSession) handleMDTM(param string) error {
	path := s.absPath(param)

	if !s.server.driver.IsAuthorized(s, OpRead, path) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	info, err := s.driver.Stat(path)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not access %s: %v", path, err))

		return nil
	}

	s.writeMessage(213, info.ModTime().UTC().Format(dateFormatMLSx))

	return nil
}
