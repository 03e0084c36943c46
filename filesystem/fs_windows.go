//go:build windows

package filesystem

import (
	"github.com/pkg/sftp"
	"golang.org/x/sys/windows"
)

// StatFS returns the status of the volume holding pathName. Windows only
// reports byte counts, so blocks are expressed in 4 KiB units.
func (FS *LocalFS) StatFS(pathName string) (*sftp.StatVFS, error) {
	name, err := FS.cleanPath(nil, pathName)
	if err != nil {
		return nil, err
	}

	dir, err := windows.UTF16PtrFromString(FS.localPath(name))
	if err != nil {
		return nil, storageError("error getting file system info", err)
	}
	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64
	err = windows.GetDiskFreeSpaceEx(dir, &freeBytesAvailable, &totalNumberOfBytes, &totalNumberOfFreeBytes)
	if err != nil {
		return nil, storageError("error getting file system info", err)
	}

	const bsize = 4096
	return &sftp.StatVFS{
		Bsize:   bsize,
		Frsize:  bsize,
		Blocks:  totalNumberOfBytes / bsize,
		Bfree:   totalNumberOfFreeBytes / bsize,
		Bavail:  freeBytesAvailable / bsize,
		Namemax: 255,
	}, nil
}
