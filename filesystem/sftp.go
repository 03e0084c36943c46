package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/omikuji/firetrap/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	_ ftp.Storage = &SFTPStorage{}
	_ DiskUsager  = &SFTPStorage{}
)

// SFTPStorage serves a directory of a remote SFTP server.
type SFTPStorage struct {
	client *sftp.Client
	conn   *ssh.Client // nil when the sftp client was handed in
	root   string
}

// NewSFTPStorage serves root on an already connected client.
func NewSFTPStorage(client *sftp.Client, root string) *SFTPStorage {
	return &SFTPStorage{
		client: client,
		root:   path.Join("/", root),
	}
}

// DialSFTP connects to addr over SSH and opens the sftp subsystem.
func DialSFTP(ctx context.Context, addr string, config *ssh.ClientConfig, root string) (*SFTPStorage, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error dialing sftp server: %w", err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error during ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("error starting sftp subsystem: %w", err)
	}

	s := NewSFTPStorage(client, root)
	s.conn = sshClient
	return s, nil
}

// PasswordConfig returns an ssh client config that logs in with a password.
// A nil hostKey accepts any host key.
func PasswordConfig(user, password string, hostKey ssh.PublicKey) *ssh.ClientConfig {
	callback := ssh.InsecureIgnoreHostKey()
	if hostKey != nil {
		callback = ssh.FixedHostKey(hostKey)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: callback,
	}
}

// Features reports what the backend supports beyond the basics.
func (s *SFTPStorage) Features() uint32 {
	return ftp.FeatureRestart
}

// ChangeDir checks that dirName is a directory on the remote side.
func (s *SFTPStorage) ChangeDir(ctx context.Context, user ftp.User, dirName string) error {
	info, err := s.Stat(ctx, user, dirName)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ftp.NewStorageError(ftp.ErrKindPermanentFileNotAvailable, fmt.Errorf("%s is not a directory", dirName))
	}
	return nil
}

// Stat returns the file info
func (s *SFTPStorage) Stat(ctx context.Context, user ftp.User, fileName string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := s.remotePath(user, fileName)
	if err != nil {
		return nil, err
	}
	info, err := s.client.Stat(name)
	if err != nil {
		return nil, sftpError("error getting file info", err)
	}
	return info, nil
}

// Rename renames the file or moves it to a different directory
func (s *SFTPStorage) Rename(ctx context.Context, user ftp.User, fileName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := s.remotePath(user, fileName)
	if err != nil {
		return err
	}
	to, err := s.remotePath(user, newName)
	if err != nil {
		return err
	}
	home, err := s.remotePath(user, "/")
	if err != nil {
		return err
	}
	if from == home || to == home {
		return ftp.NewStorageError(ftp.ErrKindPermissionDenied, errors.New("cannot rename the home directory"))
	}
	if err = s.client.Rename(from, to); err != nil {
		return sftpError("error renaming file", err)
	}
	return nil
}

// StatFS asks the server for the status of the file system holding
// pathName. Servers without the statvfs@openssh.com extension fail.
func (s *SFTPStorage) StatFS(pathName string) (*sftp.StatVFS, error) {
	name, err := s.remotePath(nil, pathName)
	if err != nil {
		return nil, err
	}
	stat, err := s.client.StatVFS(name)
	if err != nil {
		return nil, sftpError("error getting file system info", err)
	}
	return stat, nil
}

// Close closes the sftp session and, if DialSFTP opened it, the ssh
// connection.
func (s *SFTPStorage) Close() error {
	var result *multierror.Error
	if err := s.client.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing sftp client: %w", err))
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing ssh connection: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (s *SFTPStorage) remotePath(user ftp.User, pathName string) (string, error) {
	pathName, err := securePath(user, pathName)
	if err != nil {
		return "", err
	}
	return path.Join(s.root, pathName), nil
}

// sftpError maps sftp status codes onto storage error kinds.
func sftpError(msg string, err error) error {
	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case uint32(sftp.ErrSSHFxNoSuchFile):
			return ftp.NewStorageError(ftp.ErrKindPermanentFileNotAvailable, fmt.Errorf("%s: %w", msg, err))
		case uint32(sftp.ErrSSHFxPermissionDenied):
			return ftp.NewStorageError(ftp.ErrKindPermissionDenied, fmt.Errorf("%s: %w", msg, err))
		case uint32(sftp.ErrSSHFxConnectionLost), uint32(sftp.ErrSSHFxNoConnection):
			return ftp.NewStorageError(ftp.ErrKindTransientFileNotAvailable, fmt.Errorf("%s: %w", msg, err))
		}
	}
	return storageError(msg, err)
}
