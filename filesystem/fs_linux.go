package filesystem

import (
	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

// StatFS returns the status of the file system holding pathName.
func (FS *LocalFS) StatFS(pathName string) (*sftp.StatVFS, error) {
	name, err := FS.cleanPath(nil, pathName)
	if err != nil {
		return nil, err
	}

	var stat unix.Statfs_t
	if err = unix.Statfs(FS.localPath(name), &stat); err != nil {
		return nil, storageError("error getting file system info", err)
	}

	return &sftp.StatVFS{
		Bsize:   uint64(stat.Bsize),
		Frsize:  uint64(stat.Frsize),
		Blocks:  stat.Blocks,
		Bfree:   stat.Bfree,
		Bavail:  stat.Bavail,
		Files:   stat.Files,
		Ffree:   stat.Ffree,
		Favail:  stat.Ffree,
		Flag:    uint64(stat.Flags),
		Namemax: uint64(stat.Namelen),
	}, nil
}
