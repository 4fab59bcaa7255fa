package main

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"

	"github.com/fclairamb/protoserver/ftpserver"
)

// userConfig is one configured account, shared by both protocol engines.
type userConfig struct {
	User  string
	Pass  string
	Admin bool
}

// ftpConfig mirrors the subset of ftpserver.Settings worth exposing in the
// config file; zero values fall back to FtpServer's own defaults.
type ftpConfig struct {
	ListenAddr        string
	PublicHost        string
	IdleTimeout       int
	ConnectionTimeout int
	TLSRequired       string // "clear", "mandatory" or "implicit"
	PassivePortRange  *ftpserver.PortRange
}

// imapConfig mirrors the subset of imapserver.Settings worth exposing.
type imapConfig struct {
	ListenAddr     string
	IdleTimeoutSec int
	TLSEnabled     bool
}

// config is the top-level settings.toml shape.
type config struct {
	DataDir           string
	DefaultQuotaBytes int64
	AllowPlainAuth    bool
	FTP               ftpConfig
	IMAP              imapConfig
	Users             []userConfig
}

func (c *ftpConfig) tlsRequirement() ftpserver.TLSRequirement {
	switch c.TLSRequired {
	case "mandatory":
		return ftpserver.MandatoryEncryption
	case "implicit":
		return ftpserver.ImplicitEncryption
	default:
		return ftpserver.ClearOrEncrypted
	}
}

func (c *imapConfig) idleTimeout() time.Duration {
	if c.IdleTimeoutSec <= 0 {
		return 0
	}

	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// loadConfig reads and parses path, creating it with sane defaults first if
// it doesn't exist yet, for a quick local run with no prior setup.
func loadConfig(path string) (*config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := os.WriteFile(path, defaultConfigContent(), 0o644); writeErr != nil {
			return nil, fmt.Errorf("could not create default config: %w", writeErr)
		}
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", path, err)
	}

	cfg := &config{
		AllowPlainAuth:    true,
		DefaultQuotaBytes: 1 << 30, // 1 GiB
	}

	if err := toml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("could not parse %q: %w", path, err)
	}

	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("%q must declare at least one user", path)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	return cfg, nil
}

func defaultConfigContent() []byte {
	return []byte(`# protoserver configuration file

data_dir = "data"
default_quota_bytes = 1073741824
allow_plain_auth = true

[ftp]
listen_addr = "0.0.0.0:2121"
idle_timeout = 900
connection_timeout = 30
tls_required = "clear"

[ftp.passive_port_range]
start = 2122
end = 2200

[imap]
listen_addr = "0.0.0.0:1143"
idle_timeout_sec = 1800
tls_enabled = false

[[users]]
user = "test"
pass = "test"
admin = false
`)
}
