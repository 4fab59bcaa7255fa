// protoserver runs the FTP and IMAP engines side by side against one
// shared filesystem/mailbox driver and one shared quota manager.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/fclairamb/protoserver/driverfs"
	"github.com/fclairamb/protoserver/ftpserver"
	"github.com/fclairamb/protoserver/ftpserver/log/gokit"
	"github.com/fclairamb/protoserver/imapserver"
	"github.com/fclairamb/protoserver/quota"
)

func main() {
	var confFile string

	flag.StringVar(&confFile, "conf", "settings.toml", "Configuration file")
	flag.Parse()

	cfg, err := loadConfig(confFile)
	if err != nil {
		logrus.WithField("confFile", confFile).Fatal("could not load configuration: ", err)
	}

	qm := quota.NewInMemory(cfg.DefaultQuotaBytes)

	driver := driverfs.New(cfg.DataDir, qm)
	driver.AllowPlainAuth = cfg.AllowPlainAuth
	driver.Settings = &ftpserver.Settings{
		ListenAddr:               cfg.FTP.ListenAddr,
		PublicHost:               cfg.FTP.PublicHost,
		IdleTimeout:              cfg.FTP.IdleTimeout,
		ConnectionTimeout:        cfg.FTP.ConnectionTimeout,
		TLSRequired:              cfg.FTP.tlsRequirement(),
		PassiveTransferPortRange: cfg.FTP.PassivePortRange,
	}

	for _, u := range cfg.Users {
		driver.AddAccount(driverfs.Account{User: u.User, Password: u.Pass, Admin: u.Admin})
	}

	ftpSrv := ftpserver.NewFtpServer(driver)
	ftpSrv.Logger = gokit.NewGKLoggerStdout().With("component", "ftp")

	imapSettings := &imapserver.Settings{
		ListenAddr:  cfg.IMAP.ListenAddr,
		IdleTimeout: cfg.IMAP.idleTimeout(),
	}

	if cfg.IMAP.TLSEnabled {
		tlsConfig, errTLS := driver.GetTLSConfig()
		if errTLS != nil {
			logrus.Fatal("could not prepare IMAP TLS config: ", errTLS)
		}

		imapSettings.TLSConfig = tlsConfig
	}

	imapSrv := imapserver.NewIMAPServer(driver, driver, imapSettings)
	imapSrv.Logger = gokit.NewGKLoggerStdout().With("component", "imap")

	done := make(chan struct{})
	go signalHandler(ftpSrv, imapSrv, done)

	errCh := make(chan error, 2)

	go func() { errCh <- ftpSrv.ListenAndServe() }()
	go func() { errCh <- imapSrv.ListenAndServe() }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			logrus.Error("server stopped: ", err)
		}
	}

	close(done)
}

func signalHandler(ftpSrv *ftpserver.FtpServer, imapSrv *imapserver.IMAPServer, done chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(ch)

	select {
	case <-ch:
		logrus.Info("shutting down")

		if err := ftpSrv.Stop(); err != nil {
			logrus.Warn("ftp stop: ", err)
		}

		if err := imapSrv.Stop(); err != nil {
			logrus.Warn("imap stop: ", err)
		}
	case <-done:
	}
}
