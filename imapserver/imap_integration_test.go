package imapserver_test

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fclairamb/protoserver/driverfs"
	"github.com/fclairamb/protoserver/imapserver"
)

func newTestIMAPServer(t *testing.T) (*imapserver.IMAPServer, *driverfs.Driver) {
	t.Helper()

	driver := driverfs.New(t.TempDir(), nil)
	driver.AddAccount(driverfs.Account{User: "alice", Password: "secret"})

	srv := imapserver.NewIMAPServer(driver, driver, &imapserver.Settings{ListenAddr: "127.0.0.1:0"})

	require.NoError(t, srv.Listen())

	go func() { _ = srv.Serve() }()

	t.Cleanup(func() { _ = srv.Stop() })

	return srv, driver
}

// imapClient is a minimal line-oriented test client: it only knows enough
// of the wire protocol to drive a handful of commands and read replies.
type imapClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	tag    int
}

func dialIMAP(t *testing.T, addr string) *imapClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	c := &imapClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	c.readLine() // greeting

	return c
}

func (c *imapClient) readLine() string {
	c.t.Helper()

	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)

	return strings.TrimRight(line, "\r\n")
}

// command sends one tagged command and returns every line up to and
// including the tagged response.
func (c *imapClient) command(format string) []string {
	c.t.Helper()

	c.tag++
	tag := "A" + itoa(c.tag)

	_, err := c.conn.Write([]byte(tag + " " + format + "\r\n"))
	require.NoError(c.t, err)

	var lines []string

	for {
		line := c.readLine()
		lines = append(lines, line)

		if strings.HasPrefix(line, tag+" ") {
			return lines
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	return string(digits)
}

func (c *imapClient) lastLine(lines []string) string { return lines[len(lines)-1] }

func TestIMAPLoginSelectLogout(t *testing.T) {
	srv, _ := newTestIMAPServer(t)
	c := dialIMAP(t, srv.Addr())

	loginLines := c.command(`LOGIN alice secret`)
	require.Contains(t, c.lastLine(loginLines), "OK")

	selectLines := c.command(`SELECT INBOX`)
	require.Contains(t, c.lastLine(selectLines), "OK")

	logoutLines := c.command(`LOGOUT`)
	require.Contains(t, strings.Join(logoutLines, "\n"), "BYE")
	require.Contains(t, c.lastLine(logoutLines), "OK")
}

func TestIMAPLoginFailure(t *testing.T) {
	srv, _ := newTestIMAPServer(t)
	c := dialIMAP(t, srv.Addr())

	lines := c.command(`LOGIN alice wrong`)
	require.Contains(t, c.lastLine(lines), "NO")
}

func TestIMAPAppendAndFetch(t *testing.T) {
	srv, _ := newTestIMAPServer(t)
	c := dialIMAP(t, srv.Addr())

	require.Contains(t, c.lastLine(c.command(`LOGIN alice secret`)), "OK")

	c.tag++
	tag := "A" + itoa(c.tag)
	body := "hello world"

	_, err := c.conn.Write([]byte(tag + " APPEND INBOX {" + itoa(len(body)) + "}\r\n"))
	require.NoError(t, err)

	cont := c.readLine()
	require.True(t, strings.HasPrefix(cont, "+"))

	_, err = c.conn.Write([]byte(body + "\r\n"))
	require.NoError(t, err)

	var appendLine string
	for {
		line := c.readLine()
		if strings.HasPrefix(line, tag+" ") {
			appendLine = line

			break
		}
	}

	require.Contains(t, appendLine, "OK")

	require.Contains(t, c.lastLine(c.command(`SELECT INBOX`)), "OK")

	fetchLines := c.command(`FETCH 1 (RFC822.SIZE)`)
	require.Contains(t, strings.Join(fetchLines, "\n"), "RFC822.SIZE")
	require.Contains(t, c.lastLine(fetchLines), "OK")
}

func TestIMAPCapability(t *testing.T) {
	srv, _ := newTestIMAPServer(t)
	c := dialIMAP(t, srv.Addr())

	lines := c.command(`CAPABILITY`)
	require.Contains(t, strings.Join(lines, "\n"), "IMAP4rev2")
	require.Contains(t, c.lastLine(lines), "OK")
}
