package ftpserver_test

import (
	"bytes"
	"testing"

	"github.com/secsy/goftp"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/protoserver/driverfs"
	"github.com/fclairamb/protoserver/ftpserver"
	"github.com/fclairamb/protoserver/quota"
)

func newTestFTPServer(t *testing.T, qm quota.Manager) (*ftpserver.FtpServer, *driverfs.Driver) {
	t.Helper()

	driver := driverfs.New(t.TempDir(), qm)
	driver.AddAccount(driverfs.Account{User: "test", Password: "test"})
	driver.Settings = &ftpserver.Settings{ListenAddr: "127.0.0.1:0"}

	srv := ftpserver.NewFtpServer(driver)

	require.NoError(t, srv.Listen())

	go func() { _ = srv.Serve() }()

	t.Cleanup(func() { _ = srv.Stop() })

	return srv, driver
}

func dialTestClient(t *testing.T, addr string) *goftp.Client {
	t.Helper()

	client, err := goftp.DialConfig(goftp.Config{User: "test", Password: "test"}, addr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestFTPStoreAndRetrieve(t *testing.T) {
	srv, _ := newTestFTPServer(t, nil)
	client := dialTestClient(t, srv.Addr())

	data := []byte("hello from the ftp engine")
	require.NoError(t, client.Store("greeting.txt", bytes.NewReader(data)))

	var out bytes.Buffer
	require.NoError(t, client.Retrieve("greeting.txt", &out))
	require.Equal(t, data, out.Bytes())
}

func TestFTPMkdirAndList(t *testing.T) {
	srv, _ := newTestFTPServer(t, nil)
	client := dialTestClient(t, srv.Addr())

	_, err := client.Mkdir("uploads")
	require.NoError(t, err)

	entries, err := client.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "uploads", entries[0].Name())
}

func TestFTPQuotaExceeded(t *testing.T) {
	qm := quota.NewInMemory(10)
	srv, _ := newTestFTPServer(t, qm)
	client := dialTestClient(t, srv.Addr())

	data := bytes.Repeat([]byte("x"), 1024)
	err := client.Store("too-big.bin", bytes.NewReader(data))
	require.Error(t, err)
}

func TestFTPInvalidCredentialsRejected(t *testing.T) {
	srv, _ := newTestFTPServer(t, nil)

	client, err := goftp.DialConfig(goftp.Config{User: "test", Password: "wrong"}, srv.Addr())
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	_, err = client.OpenRawConn()
	require.Error(t, err)
}
