package ssh

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/sftp"

	"github.com/openfroyo/hostprep/pkg/patch"
)

// SFTPFS implements patch.FS on the remote host. Files are written with the
// permissions of the SSH user, so patching root-owned files needs a root login.
type SFTPFS struct {
	client *sftp.Client
}

// NewSFTPFS wraps an SFTP client.
func NewSFTPFS(client *sftp.Client) *SFTPFS {
	return &SFTPFS{client: client}
}

// ReadFile implements patch.FS.
func (f *SFTPFS) ReadFile(name string) ([]byte, error) {
	file, err := f.client.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Stat implements patch.FS.
func (f *SFTPFS) Stat(name string) (fs.FileInfo, error) {
	return f.client.Stat(name)
}

// MkdirAll implements patch.FS. Existing directories keep their mode.
func (f *SFTPFS) MkdirAll(dir string, perm fs.FileMode) error {
	if _, err := f.client.Stat(dir); err == nil {
		return nil
	}
	if err := f.client.MkdirAll(dir); err != nil {
		return err
	}
	return f.client.Chmod(dir, perm)
}

// CreateTemp implements patch.FS. The last "*" in pattern is replaced by a
// random string, as with os.CreateTemp.
func (f *SFTPFS) CreateTemp(dir, pattern string) (patch.TempFile, error) {
	prefix, suffix := pattern, ""
	if i := strings.LastIndex(pattern, "*"); i >= 0 {
		prefix, suffix = pattern[:i], pattern[i+1:]
	}

	for attempt := 0; attempt < 10; attempt++ {
		name := path.Join(dir, prefix+uuid.NewString()[:8]+suffix)
		file, err := f.client.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &sftpTempFile{File: file, name: name}, nil
	}
	return nil, &fs.PathError{Op: "createtemp", Path: path.Join(dir, pattern), Err: fs.ErrExist}
}

// Chmod implements patch.FS.
func (f *SFTPFS) Chmod(name string, mode fs.FileMode) error {
	return f.client.Chmod(name, mode)
}

// Rename implements patch.FS. POSIX rename replaces the target atomically,
// which plain SFTP rename does not.
func (f *SFTPFS) Rename(oldpath, newpath string) error {
	return f.client.PosixRename(oldpath, newpath)
}

// Remove implements patch.FS.
func (f *SFTPFS) Remove(name string) error {
	return f.client.Remove(name)
}

type sftpTempFile struct {
	*sftp.File
	name string
}

func (t *sftpTempFile) Name() string { return t.name }

// Sync is a no-op; the server flushes on close.
func (t *sftpTempFile) Sync() error { return nil }
