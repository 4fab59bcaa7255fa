// Package driverfs is a reference MainDriver/ClientDriver and IMAP realm
// backed by the local filesystem (FTP side, via afero) and an in-memory
// mailbox store (IMAP side). It exists to give the two protocol engines
// something concrete to run against; it is not meant to be a production
// account or mailbox backend.
package driverfs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/fclairamb/protoserver/ftpserver"
	"github.com/fclairamb/protoserver/quota"
)

// Account is one local user: its FTP/IMAP password, storage root, and
// whether it may use OpAdmin-gated operations (SITE SETQUOTA for other
// users, quota introspection).
type Account struct {
	User     string
	Password string
	Admin    bool
}

// Driver is the shared MainDriver (FTP) plus Realm and
// ClientConnectedHandler (IMAP) implementation: one account list, one
// base directory tree, one quota manager, backing both protocol engines.
type Driver struct {
	BaseDir        string
	Settings       *ftpserver.Settings
	QuotaManager   quota.Manager
	AllowPlainAuth bool

	mu        sync.RWMutex
	accounts  map[string]Account
	tlsConfig *tls.Config

	mailboxesMu sync.Mutex
	mailboxes   map[string]map[string]*mailbox
}

// New creates a Driver rooted at baseDir, with quota enforcement through
// qm (nil disables it).
func New(baseDir string, qm quota.Manager) *Driver {
	return &Driver{
		BaseDir:        baseDir,
		QuotaManager:   qm,
		AllowPlainAuth: true,
		accounts:       make(map[string]Account),
		mailboxes:      make(map[string]map[string]*mailbox),
	}
}

// AddAccount registers a user. It takes the driver's write lock, so it may
// run concurrently with authentication attempts.
func (d *Driver) AddAccount(a Account) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.accounts[a.User] = a
}

func (d *Driver) account(user string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[user]

	return a, ok
}

func (d *Driver) userDir(user string) string {
	return filepath.Join(d.BaseDir, user)
}

// --- ftpserver.MainDriver ---

// GetSettings returns the general server settings. BaseDir/Settings are
// supplied by the embedding cmd/protoserver binary, not loaded here.
func (d *Driver) GetSettings() (*ftpserver.Settings, error) {
	if d.Settings == nil {
		return nil, errors.New("driver has no settings configured")
	}

	return d.Settings, nil
}

// ClientConnected produces the FTP welcome banner.
func (d *Driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	return fmt.Sprintf("protoserver ready, client %d", cc.ID()), nil
}

// ClientDisconnected is a no-op: accounts and mailboxes outlive the
// connection.
func (d *Driver) ClientDisconnected(ftpserver.ClientContext) {}

// Authenticate checks (user, pass) against the account list and, on
// success, roots a ClientDriver at the user's own subdirectory.
func (d *Driver) Authenticate(cc ftpserver.ClientContext, user, pass, _ string) (ftpserver.AuthResult, ftpserver.ClientDriver, error) {
	account, ok := d.account(user)
	if !ok {
		return ftpserver.AuthInvalidUser, nil, nil
	}

	if pass == "" {
		return ftpserver.AuthNeedPassword, nil, nil
	}

	if account.Password != pass {
		return ftpserver.AuthInvalidPassword, nil, nil
	}

	dir := d.userDir(user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ftpserver.AuthInvalidUser, nil, fmt.Errorf("could not prepare home directory: %w", err)
	}

	return ftpserver.AuthSuccess, newClientDriver(dir), nil
}

// GetTLSConfig lazily generates a self-signed certificate the first time
// TLS is needed; any real deployment should instead load a certificate
// from disk through cmd/protoserver's configuration.
func (d *Driver) GetTLSConfig() (*tls.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tlsConfig != nil {
		return d.tlsConfig, nil
	}

	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, err
	}

	d.tlsConfig = &tls.Config{
		NextProtos:   []string{"ftp"},
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}

	return d.tlsConfig, nil
}

// IsAuthorized allows every operation except OpAdmin, which only accounts
// flagged Admin may perform. There are no per-path ACLs: each user is
// already chrooted to their own subtree.
func (d *Driver) IsAuthorized(cc ftpserver.ClientContext, op ftpserver.OperationType, path string) bool {
	if op == ftpserver.OpAdmin {
		account, ok := d.account(cc.User())

		return ok && account.Admin
	}

	return true
}

// GetQuotaManager returns the shared quota manager, or nil to disable
// enforcement.
func (d *Driver) GetQuotaManager() quota.Manager {
	return d.QuotaManager
}

// TransferStarting is a no-op: this reference driver has no transfer
// ledger to open.
func (d *Driver) TransferStarting(cc ftpserver.ClientContext, path string, isUpload bool, size int64) {
}

// TransferProgress is a no-op: this reference driver doesn't track
// mid-flight byte counts.
func (d *Driver) TransferProgress(cc ftpserver.ClientContext, path string, isUpload bool, total int64) {
}

// TransferCompleted is a no-op: this reference driver has no transfer
// ledger to close.
func (d *Driver) TransferCompleted(cc ftpserver.ClientContext, path string, isUpload bool, total int64, success bool) {
}

// HandleSiteCommand implements SITE WHOAMI (reports the authenticated
// user) and otherwise reports OpResultNotSupported, matching the
// reference ftpserverlib driver's "not understood" behavior for any SITE
// subcommand it doesn't recognize.
func (d *Driver) HandleSiteCommand(cc ftpserver.ClientContext, cmd string) (ftpserver.OpResult, string, error) {
	if strings.EqualFold(strings.TrimSpace(cmd), "WHOAMI") {
		return ftpserver.OpResultSuccess, fmt.Sprintf("You are %s", cc.User()), nil
	}

	return ftpserver.OpResultNotSupported, fmt.Sprintf("Unknown SITE subcommand: %s", cmd), nil
}

// --- ClientDriver ---

// clientDriver is ftpserver.ClientDriver rooted at a single user's
// directory, with the extension interfaces the core optionally probes
// for (ALLO, STOU).
type clientDriver struct {
	afero.Fs
	baseDir string
}

func newClientDriver(baseDir string) *clientDriver {
	return &clientDriver{
		Fs:      afero.NewBasePathFs(afero.NewOsFs(), baseDir),
		baseDir: baseDir,
	}
}

// AllocateSpace implements ftpserver.ClientDriverExtensionAllocate. The
// local filesystem doesn't need pre-allocation; this just reports success
// so ALLO doesn't fail spuriously.
func (c *clientDriver) AllocateSpace(size int) error { return nil }

// GenerateUniqueName implements ftpserver.ClientDriverExtensionUniqueName
// for STOU.
func (c *clientDriver) GenerateUniqueName(dir string) (string, error) {
	return filepath.Join(dir, uuid.NewString()), nil
}

// generateSelfSignedCert mints a short-lived localhost certificate for
// local runs with no operator-supplied TLS material.
func generateSelfSignedCert() (*tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}

	now := time.Now().UTC()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"protoserver"},
		},
		DNSNames:              []string{"localhost"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour * 7),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("could not create certificate: %w", err)
	}

	var certPem, keyPem []byte

	certPem = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPem = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	cert, err := tls.X509KeyPair(certPem, keyPem)
	if err != nil {
		return nil, fmt.Errorf("could not load generated certificate: %w", err)
	}

	return &cert, nil
}
