package ftpserver

import (
	"bufio"
	"io"
)

// convertMode is the line-ending translation direction for a TYPE A
// (ASCII) transfer: the wire always uses CRLF, the local file uses
// whatever convention the OS favors.
type convertMode int

// Line-ending conversion directions.
const (
	convertModeToCRLF convertMode = iota
	convertModeToLF
)

// asciiConverter is an io.Reader that rewrites line endings on the fly for
// TYPE A transfers (RFC 959 §3.1.1), reading ahead one line at a time. The
// length a Read reports is that of the converted bytes, so it differs from
// the source length whenever a line ending is translated.
type asciiConverter struct {
	reader    *bufio.Reader
	mode      convertMode
	remaining []byte
}

// newASCIIConverter wraps r, converting line endings to mode as it is read.
func newASCIIConverter(r io.Reader, mode convertMode) *asciiConverter {
	reader := bufio.NewReaderSize(r, 4096)

	return &asciiConverter{
		reader:    reader,
		mode:      mode,
		remaining: nil,
	}
}

func (c *asciiConverter) Read(p []byte) (n int, err error) {
	var data []byte

	if len(c.remaining) > 0 {
		data = c.remaining
		c.remaining = nil
	} else {
		data, _, err = c.reader.ReadLine()
		if err != nil {
			return
		}
	}

	n = len(data)
	if n > 0 {
		maxSize := len(p) - 2
		if n > maxSize {
			copy(p, data[:maxSize])
			c.remaining = data[maxSize:]

			return maxSize, nil
		}

		copy(p[:n], data[:n])
	}

	// we can have a partial read if the line is too long
	// or a trailing line without a line ending, so we check
	// the last byte to decide if we need to add a line ending.
	// This will also ensure that a file without line endings
	// will remain unchanged.
	// Please note that a binary file will likely contain
	// newline chars so it will be still corrupted if the
	// client transfers it in ASCII mode
	err = c.reader.UnreadByte()
	if err != nil {
		return
	}

	lastByte, err := c.reader.ReadByte()

	if err == nil && lastByte == '\n' {
		switch c.mode {
		case convertModeToCRLF:
			p[n] = '\r'
			p[n+1] = '\n'
			n += 2
		case convertModeToLF:
			p[n] = '\n'
			n++
		}
	}

	return n, err
}
