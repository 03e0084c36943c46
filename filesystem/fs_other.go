//go:build !linux && !darwin && !windows

package filesystem

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/omikuji/firetrap/ftp"
	"github.com/pkg/sftp"
)

// StatFS is not available on this platform.
func (FS *LocalFS) StatFS(string) (*sftp.StatVFS, error) {
	return nil, ftp.NewStorageError(ftp.ErrKindLocalError, fmt.Errorf("%w: %s", errors.ErrUnsupported, runtime.GOOS))
}
