package ftpserver

import (
	"path"
	"strings"
)

func cleanPath(p string) string {
	return path.Clean(p)
}

// quoteDoubling implements the RFC 959 p.63 "quote-doubling" convention for
// embedding a double-quote inside a quoted pathname reply.
func quoteDoubling(s string) string {
	if !strings.Contains(s, `"`) {
		return s
	}

	return strings.ReplaceAll(s, `"`, `""`)
}
