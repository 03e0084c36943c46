// Package filesystem holds the storage backends of the FTP server: a local
// directory and a remote SFTP server.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/omikuji/firetrap/ftp"
	"github.com/pkg/sftp"
)

// HomeDirer is implemented by users that are jailed below a home directory
// of the backend.
type HomeDirer interface {
	Home() string
}

// DiskUsager is implemented by backends that can report free space.
type DiskUsager interface {
	StatFS(pathName string) (*sftp.StatVFS, error)
}

var (
	_ ftp.Storage = &LocalFS{}
	_ DiskUsager  = &LocalFS{}
)

// LocalFS is a local directory served as the FTP root.
type LocalFS struct {
	FS          fs.FS
	localDir    string // local directory to serve as the ftp virtualRoot
	virtualRoot string // what clients see as the top of the tree, normally "/"
}

// NewLocalFS serves localDir.
func NewLocalFS(localDir string) *LocalFS {
	return &LocalFS{
		localDir:    localDir,
		virtualRoot: "/",
		FS:          os.DirFS(localDir),
	}
}

// RootDir returns the Root directory of the file system
func (FS *LocalFS) RootDir() string {
	return FS.virtualRoot
}

// Features reports what the backend supports beyond the basics.
func (FS *LocalFS) Features() uint32 {
	return ftp.FeatureRestart
}

// ChangeDir checks that dirName exists, is a directory and can be listed.
func (FS *LocalFS) ChangeDir(ctx context.Context, user ftp.User, dirName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := FS.cleanPath(user, dirName)
	if err != nil {
		return err
	}

	info, err := fs.Stat(FS.FS, name)
	if err != nil {
		return storageError("error checking directory", err)
	}
	if !info.IsDir() {
		return ftp.NewStorageError(ftp.ErrKindPermanentFileNotAvailable, fmt.Errorf("%s is not a directory", dirName))
	}
	if _, err = fs.ReadDir(FS.FS, name); err != nil {
		return storageError("error checking directory", err)
	}
	return nil
}

// Stat returns the file info
func (FS *LocalFS) Stat(ctx context.Context, user ftp.User, fileName string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := FS.cleanPath(user, fileName)
	if err != nil {
		return nil, err
	}

	info, err := fs.Stat(FS.FS, name)
	if err != nil {
		return nil, storageError("error getting file info", err)
	}
	return info, nil
}

// Rename renames the file or moves it to a different directory
func (FS *LocalFS) Rename(ctx context.Context, user ftp.User, fileName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := FS.cleanPath(user, fileName)
	if err != nil {
		return err
	}
	to, err := FS.cleanPath(user, newName)
	if err != nil {
		return err
	}
	home, err := FS.cleanPath(user, "/")
	if err != nil {
		return err
	}
	if from == home || to == home {
		return ftp.NewStorageError(ftp.ErrKindPermissionDenied, errors.New("cannot rename the home directory"))
	}

	if err = os.Rename(FS.localPath(from), FS.localPath(to)); err != nil {
		return storageError("error renaming file", err)
	}
	return nil
}

// localPath turns a cleaned fs.FS name into a path on disk.
func (FS *LocalFS) localPath(name string) string {
	return filepath.Join(FS.localDir, filepath.FromSlash(name))
}

// homeDir returns the directory user is jailed in, "/" for everyone else.
func homeDir(user ftp.User) string {
	if u, ok := user.(HomeDirer); ok && u.Home() != "" {
		return path.Join("/", u.Home())
	}
	return "/"
}

// securePath resolves pathName against the user's home directory. Dot
// segments are applied before the home prefix, so the result never leaves it.
func securePath(user ftp.User, pathName string) (string, error) {
	if strings.ContainsRune(pathName, 0) {
		return "", ftp.NewStorageError(ftp.ErrKindFileNameNotAllowed, errors.New("path contains a NUL byte"))
	}
	return path.Join(homeDir(user), path.Clean("/"+pathName)), nil
}

// cleanPath calls securePath and strips the leading slash so the result can
// be used with fs.FS.
func (FS *LocalFS) cleanPath(user ftp.User, pathName string) (string, error) {
	pathName, err := securePath(user, pathName)
	if err != nil {
		return "", err
	}
	pathName = strings.TrimPrefix(pathName, "/")
	if pathName == "" {
		pathName = "."
	}
	if !fs.ValidPath(pathName) {
		return "", ftp.NewStorageError(ftp.ErrKindFileNameNotAllowed, fmt.Errorf("invalid path %q", pathName))
	}
	return pathName, nil
}

// storageError tags err with the kind the FTP layer maps to a reply code.
func storageError(msg string, err error) error {
	var se *ftp.StorageError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return ftp.NewStorageError(ftp.ErrKindPermanentFileNotAvailable, fmt.Errorf("%s: %w", msg, err))
	case errors.Is(err, fs.ErrPermission):
		return ftp.NewStorageError(ftp.ErrKindPermissionDenied, fmt.Errorf("%s: %w", msg, err))
	case errors.Is(err, fs.ErrExist):
		return ftp.NewStorageError(ftp.ErrKindFileNameNotAllowed, fmt.Errorf("%s: %w", msg, err))
	default:
		return ftp.NewStorageError(ftp.ErrKindLocalError, fmt.Errorf("%s: %w", msg, err))
	}
}
