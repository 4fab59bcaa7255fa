package ftpserver

import (
	"io"
	"net"
	"runtime"
	"strconv"

	"github.com/fclairamb/protoserver/quota"
	"github.com/fclairamb/protoserver/telemetry"
)

// progressChunk is the granularity of telemetry progress events emitted
// while streaming a transfer.
const progressChunk = 64 * 1024

// runDataTransfer opens the latched data connection, invokes fn with it,
// and always closes the transfer afterwards, reporting fn's error (or the
// close error) to the client via the coordinator.
func (s *FTPSession) runDataTransfer(info string, fn func(conn net.Conn) error) error {
	conn, err := s.coordinator.openTransfer(info)
	if err != nil {
		return err
	}

	err = fn(conn)

	s.coordinator.closeTransfer(err)

	return err
}

// streamFile copies between conn and file, applying ASCII<->local line
// ending conversion when the session's TYPE is ASCII (RFC 959 §3.1.1).
// write selects direction: true
// copies conn -> file (STOR/APPE), false copies file -> conn (RETR).
// path is reported to the driver's transfer-progress callback; it returns
// the number of bytes copied alongside any error.
func (s *FTPSession) streamFile(conn net.Conn, file FileTransfer, write bool, path string) (int64, error) {
	var in io.Reader

	var out io.Writer

	conversionMode := convertModeToCRLF

	if write {
		in = conn
		out = file

		if runtime.GOOS != "windows" {
			conversionMode = convertModeToLF
		}
	} else {
		in = file
		out = conn
	}

	s.paramsMutex.RLock()
	ascii := s.transferType == TransferTypeASCII
	s.paramsMutex.RUnlock()

	if ascii {
		in = newASCIIConverter(in, conversionMode)
	}

	if write {
		if qm := s.server.driver.GetQuotaManager(); qm != nil {
			out = &quotaWriter{w: out, quota: qm, user: s.User()}
		}
	}

	progress := &progressWriter{
		w:        out,
		span:     s.span,
		driver:   s.server.driver,
		cc:       s,
		path:     path,
		isUpload: write,
	}
	out = progress

	written, err := io.Copy(out, in)
	if err != nil && (err != io.EOF || write) {
		if fte, ok := file.(FileTransferError); ok {
			fte.TransferError(err)
		}

		return progress.total, err
	}

	if written == 0 {
		// Make sure an empty file still produces an empty write, rather
		// than a connection that never sent anything.
		_, err = out.Write(nil)
	}

	s.span.Event("transfer.bytes", "count", strconv.FormatInt(written, 10))

	return progress.total, err
}

// progressWriter emits a telemetry event and a driver TransferProgress
// callback every progressChunk bytes written, so long transfers are
// observable mid-flight both to tracing and to the driver.
type progressWriter struct {
	w        io.Writer
	span     *telemetry.Span
	driver   MainDriver
	cc       ClientContext
	path     string
	isUpload bool
	total    int64
	reported int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.total += int64(n)

	if p.total-p.reported >= progressChunk {
		p.reported = p.total
		p.span.Event("transfer.progress", "bytes", strconv.FormatInt(p.total, 10))
		p.driver.TransferProgress(p.cc, p.path, p.isUpload, p.total)
	}

	return n, err
}

// quotaWriter reserves quota.Manager space incrementally as bytes are
// written, failing the transfer with ErrStorageExceeded the moment the
// user's limit is hit instead of only after the fact.
type quotaWriter struct {
	w     io.Writer
	quota quota.Manager
	user  string
}

func (q *quotaWriter) Write(b []byte) (int, error) {
	if err := q.quota.Reserve(q.user, int64(len(b))); err != nil {
		return 0, ErrStorageExceeded
	}

	n, err := q.w.Write(b)
	if n < len(b) {
		q.quota.Release(q.user, int64(len(b)-n))
	}

	return n, err
}
