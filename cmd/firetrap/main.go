// Command firetrap runs the FTP server on a local directory or a remote SFTP
// share. It is configured through environment variables, see GetEnv.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/omikuji/firetrap/filesystem"
	"github.com/omikuji/firetrap/ftp"
	"github.com/omikuji/firetrap/keys"
	"github.com/omikuji/firetrap/users"
	"golang.org/x/crypto/ssh"
)

var getServerPublicIP = ftp.GetServerPublicIP

func main() {
	// setting up the slog logger
	logger := setupLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("firetrap stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := GetEnv(ctx, logger)
	if err != nil {
		return fmt.Errorf("error getting environment: %w", err)
	}

	storage, closeStorage, err := GetStorage(ctx, env, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	u, closeUsers, err := GetUsers(ctx, env, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	ftpServer, err := ftp.NewServer(env.FtpAddr, storage, u)
	if err != nil {
		return fmt.Errorf("error creating ftp server: %w", err)
	}
	ftpServer.SetLogger(logger.With("module", "ftp-server"))
	// setting the public server ip for passive mode
	if err = ftpServer.SetPublicServerIPv4(env.FtpServerIPv4); err != nil {
		return fmt.Errorf("error setting public server ip: %w", err)
	}
	// setting the passive ports range
	ftpServer.PasvMinPort = env.PasvMinPort
	ftpServer.PasvMaxPort = env.PasvMaxPort

	if ftpServer.TLSConfig, err = GetTLSConfig(env); err != nil {
		return err
	}

	if err = ftpServer.TryListenAndServe(time.Second); err != nil {
		return fmt.Errorf("error starting ftp server: %w", err)
	}
	printBanner(os.Stdout, env, ftpServer.TLSConfig != nil)
	logger.Info("FTP server started", "addr", env.FtpAddr, "storage", env.Storage)

	<-ctx.Done()
	logger.Info("shutting down")
	return ftpServer.Close(errors.New("ftp server closed by signal"))
}

func setupLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	addSource := false
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		logLevel = slog.LevelDebug
		addSource = true
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		AddSource:  addSource,
		Level:      logLevel,
		TimeFormat: time.DateTime,
	})
	logger := slog.New(handler).With("app", "firetrap")
	logger.Info("Logger initialized", "level", logLevel)
	return logger
}

// GetStorage opens the backend selected by FTP_STORAGE.
func GetStorage(ctx context.Context, env *Environment, logger *slog.Logger) (ftp.Storage, func(), error) {
	var (
		storage ftp.Storage
		closer  = func() {}
	)
	switch env.Storage {
	case "sftp":
		var hostKey ssh.PublicKey
		if env.SftpHostKey != "" {
			key, err := keys.ParseSSHPublicKey(env.SftpHostKey)
			if err != nil {
				return nil, nil, err
			}
			hostKey = key
		} else {
			logger.Warn("SFTP_HOST_KEY is empty, accepting any host key", "addr", env.SftpAddr)
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := filesystem.DialSFTP(dialCtx, env.SftpAddr, filesystem.PasswordConfig(env.SftpUser, env.SftpPass, hostKey), env.SftpRoot)
		if err != nil {
			return nil, nil, err
		}
		storage = s
		closer = func() {
			if err := s.Close(); err != nil {
				logger.Warn("error closing sftp storage", "error", err)
			}
		}
	default:
		info, err := os.Stat(env.FtpServerRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening ftp root: %w", err)
		}
		if !info.IsDir() {
			return nil, nil, fmt.Errorf("ftp root %s is not a directory", env.FtpServerRoot)
		}
		storage = filesystem.NewLocalFS(env.FtpServerRoot)
	}

	if du, ok := storage.(filesystem.DiskUsager); ok {
		if stat, err := du.StatFS("/"); err != nil {
			logger.Debug("free space unknown", "error", err)
		} else {
			logger.Info("storage ready", "free-bytes", stat.FreeSpace(), "total-bytes", stat.TotalSpace())
		}
	}
	return storage, closer, nil
}

// GetUsers returns the user store, with the default user from the
// environment added to it.
func GetUsers(ctx context.Context, env *Environment, logger *slog.Logger) (users.Users, func(), error) {
	if env.UsersDB != "" {
		db, err := users.OpenDBUsers(env.UsersDB)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := db.Close(); err != nil {
				logger.Warn("error closing users database", "error", err)
			}
		}
		if env.DefaultUser != "" && env.DefaultPass != "" {
			_, err = db.Add(ctx, env.DefaultUser, env.DefaultPass, 0, env.DefaultHome, env.DefaultIPs...)
			if errors.Is(err, users.ErrUserExists) {
				logger.Info("default user already in the database", "username", env.DefaultUser)
			} else if err != nil {
				closer()
				return nil, nil, fmt.Errorf("error adding default user: %w", err)
			}
		}
		return db, closer, nil
	}

	local := users.NewLocalUsers()
	if env.DefaultUser == "" || env.DefaultPass == "" {
		logger.Info("FTP_DEFAULT_USER or FTP_DEFAULT_PASS is empty, not creating default user")
		return local, func() {}, nil
	}
	user1, err := local.Add(env.DefaultUser, env.DefaultPass, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("error adding default user: %w", err)
	}
	user1.HomeDir = env.DefaultHome
	for _, ip := range env.DefaultIPs {
		if err := user1.AddIP(ip); err != nil {
			return nil, nil, err
		}
	}
	return local, func() {}, nil
}

// GetTLSConfig loads CRT_FILE and KEY_FILE, or makes a self-signed
// certificate when FTP_TLS_SELF_SIGNED is set. nil means no TLS.
func GetTLSConfig(env *Environment) (*tls.Config, error) {
	switch {
	case env.CrtFile != "" && env.KeyFile != "":
		return keys.LoadTLSConfig(env.CrtFile, env.KeyFile)
	case env.TLSSelfSigned:
		return keys.SelfSignedTLSConfig(env.FtpServerIPv4)
	}
	return nil, nil
}

func printBanner(w io.Writer, env *Environment, tlsEnabled bool) {
	tlsState := color.YellowString("off")
	if tlsEnabled {
		tlsState = color.GreenString("on")
	}
	passive := "any port"
	if env.PasvMinPort != 0 || env.PasvMaxPort != 0 {
		passive = fmt.Sprintf("%d-%d", env.PasvMinPort, env.PasvMaxPort)
	}
	fmt.Fprintf(w, "%s listening on %s\n", color.New(color.FgCyan, color.Bold).Sprint("firetrap"), color.GreenString(env.FtpAddr))
	fmt.Fprintf(w, "  storage: %s\n", color.BlueString(env.Storage))
	fmt.Fprintf(w, "  passive: %s via %s\n", passive, color.BlueString(env.FtpServerIPv4))
	fmt.Fprintf(w, "  tls:     %s\n", tlsState)
}
