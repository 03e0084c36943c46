package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Environment is the environment of the server
type Environment struct {
	FtpAddr       string
	FtpServerIPv4 string
	FtpServerRoot string
	PasvMinPort   int
	PasvMaxPort   int

	CrtFile       string
	KeyFile       string
	TLSSelfSigned bool

	DefaultUser string
	DefaultPass string
	DefaultIPs  []string
	DefaultHome string
	UsersDB     string

	// Storage is "local" or "sftp".
	Storage     string
	SftpAddr    string
	SftpUser    string
	SftpPass    string
	SftpRoot    string
	SftpHostKey string
}

// GetEnv returns a new Environment with the environment variables
func GetEnv(ctx context.Context, logger *slog.Logger) (env *Environment, err error) {
	env = &Environment{}

	// this is the public ip of the server for PASV mode
	env.FtpServerIPv4 = os.Getenv("FTP_SERVER_IPV4")
	if env.FtpServerIPv4 == "" {
		logger.Info("FTP_SERVER_IPV4 was empty, getting public ip from ipify.org")
		ip, err := getServerPublicIP(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting public ip: %w", err)
		}
		env.FtpServerIPv4 = ip.String()
	}

	env.FtpAddr = getenvDefault("FTP_SERVER_ADDR", ":21")
	env.FtpServerRoot = getenvDefault("FTP_SERVER_ROOT", ".")
	logger.Debug("FTP_SERVER_ADDR is", "ADDR", env.FtpAddr)
	logger.Debug("FTP_SERVER_IPV4 is", "IP", env.FtpServerIPv4)
	logger.Debug("FTP_SERVER_ROOT is", "ROOT", env.FtpServerRoot)

	if env.PasvMinPort, err = atoiEnv("PASV_MIN_PORT"); err != nil {
		return nil, err
	}
	if env.PasvMaxPort, err = atoiEnv("PASV_MAX_PORT"); err != nil {
		return nil, err
	}
	logger.Debug("PASV_MIN_PORT is", "PORT", env.PasvMinPort)
	logger.Debug("PASV_MAX_PORT is", "PORT", env.PasvMaxPort)

	// load the crt and key files
	env.CrtFile = os.Getenv("CRT_FILE")
	env.KeyFile = os.Getenv("KEY_FILE")
	env.TLSSelfSigned, _ = strconv.ParseBool(os.Getenv("FTP_TLS_SELF_SIGNED"))
	logger.Debug("CRT_FILE is ", "file", env.CrtFile)
	logger.Debug("KEY_FILE is ", "file", env.KeyFile)

	env.DefaultUser = os.Getenv("FTP_DEFAULT_USER")
	env.DefaultPass = os.Getenv("FTP_DEFAULT_PASS")
	env.DefaultHome = os.Getenv("FTP_DEFAULT_HOME")
	for _, ip := range strings.Split(os.Getenv("FTP_DEFAULT_IP"), ",") {
		if ip = strings.Trim(ip, " \n\r\t"); ip != "" {
			env.DefaultIPs = append(env.DefaultIPs, ip)
		}
	}
	env.UsersDB = os.Getenv("FTP_USERS_DB")
	logger.Debug("FTP_DEFAULT_USER is", "username", env.DefaultUser)
	logger.Debug("FTP_DEFAULT_IP is", "Allowed form origin IPs", env.DefaultIPs)

	env.Storage = getenvDefault("FTP_STORAGE", "local")
	switch env.Storage {
	case "local":
	case "sftp":
		env.SftpAddr = os.Getenv("SFTP_ADDR")
		env.SftpUser = os.Getenv("SFTP_USER")
		env.SftpPass = os.Getenv("SFTP_PASS")
		env.SftpRoot = getenvDefault("SFTP_ROOT", "/")
		env.SftpHostKey = os.Getenv("SFTP_HOST_KEY")
		if env.SftpAddr == "" || env.SftpUser == "" {
			return nil, fmt.Errorf("SFTP_ADDR and SFTP_USER are required with FTP_STORAGE=sftp")
		}
		logger.Debug("SFTP_ADDR is", "ADDR", env.SftpAddr, "user", env.SftpUser, "root", env.SftpRoot)
	default:
		return nil, fmt.Errorf("unknown FTP_STORAGE %q, expected local or sftp", env.Storage)
	}
	return env, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiEnv(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s: %w", key, err)
	}
	return n, nil
}
