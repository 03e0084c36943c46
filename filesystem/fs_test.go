package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/omikuji/firetrap/ftp"
)

type testUser struct {
	name string
	home string
}

func (u testUser) Name() string { return u.name }
func (u testUser) Home() string { return u.home }

func storageErrorKind(t *testing.T, err error) ftp.StorageErrorKind {
	t.Helper()
	var se *ftp.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a storage error", err)
	}
	return se.Kind
}

func newTestFS(t *testing.T) (*LocalFS, string) {
	t.Helper()
	dir := t.TempDir()
	for _, d := range []string{"docs", "home/bob/inbox"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"docs/a.txt", "home/bob/inbox/mail.txt"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewLocalFS(dir), dir
}

func Test_LocalFSChangeDir(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	bob := testUser{name: "bob", home: "/home/bob"}

	tests := []struct {
		name     string
		user     ftp.User
		dir      string
		wantKind ftp.StorageErrorKind
		wantOK   bool
	}{
		{"root", nil, "/", 0, true},
		{"subdir", nil, "/docs", 0, true},
		{"escape is clamped", nil, "/../../docs", 0, true},
		{"missing", nil, "/nope", ftp.ErrKindPermanentFileNotAvailable, false},
		{"file", nil, "/docs/a.txt", ftp.ErrKindPermanentFileNotAvailable, false},
		{"home", bob, "/inbox", 0, true},
		{"outside home", bob, "/docs", ftp.ErrKindPermanentFileNotAvailable, false},
		{"nul byte", nil, "/do\x00cs", ftp.ErrKindFileNameNotAllowed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fsys.ChangeDir(ctx, tt.user, tt.dir)
			if tt.wantOK {
				if err != nil {
					t.Errorf("ChangeDir(%q) = %v", tt.dir, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ChangeDir(%q) succeeded", tt.dir)
			}
			if kind := storageErrorKind(t, err); kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", kind, tt.wantKind)
			}
		})
	}
}

func Test_LocalFSStat(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()

	info, err := fsys.Stat(ctx, nil, "/docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 5 || info.IsDir() {
		t.Errorf("unexpected info: size %d dir %v", info.Size(), info.IsDir())
	}

	info, err = fsys.Stat(ctx, testUser{name: "bob", home: "home/bob"}, "/inbox/mail.txt")
	if err != nil || info.Name() != "mail.txt" {
		t.Errorf("stat in home: %v, %v", info, err)
	}

	_, err = fsys.Stat(ctx, nil, "/docs/missing.txt")
	if kind := storageErrorKind(t, err); kind != ftp.ErrKindPermanentFileNotAvailable {
		t.Errorf("kind = %s", kind)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cause lost: %v", err)
	}
}

func Test_LocalFSRename(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	if err := fsys.Rename(ctx, nil, "/docs/a.txt", "/docs/b.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs", "b.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	err := fsys.Rename(ctx, nil, "/docs/a.txt", "/docs/c.txt")
	if kind := storageErrorKind(t, err); kind != ftp.ErrKindPermanentFileNotAvailable {
		t.Errorf("renaming a missing file: kind = %s", kind)
	}

	err = fsys.Rename(ctx, nil, "/", "/elsewhere")
	if kind := storageErrorKind(t, err); kind != ftp.ErrKindPermissionDenied {
		t.Errorf("renaming the root: kind = %s", kind)
	}

	// a jailed user cannot move files out of their home
	bob := testUser{name: "bob", home: "/home/bob"}
	err = fsys.Rename(ctx, bob, "/inbox/mail.txt", "/../../docs/stolen.txt")
	if kind := storageErrorKind(t, err); kind != ftp.ErrKindPermanentFileNotAvailable {
		t.Errorf("rename out of home: kind = %s", kind)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs", "stolen.txt")); err == nil {
		t.Error("file escaped the home directory")
	}
	if err := fsys.Rename(ctx, bob, "/inbox/mail.txt", "/mail.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "home", "bob", "mail.txt")); err != nil {
		t.Errorf("rename inside home: %v", err)
	}

	// the home directory itself stays put
	for _, names := range [][2]string{{"/", "/moved"}, {"/..", "/moved"}, {"/mail.txt", "/"}} {
		err = fsys.Rename(ctx, bob, names[0], names[1])
		if kind := storageErrorKind(t, err); kind != ftp.ErrKindPermissionDenied {
			t.Errorf("Rename(%q, %q) as bob: kind = %s", names[0], names[1], kind)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "home", "bob")); err != nil {
		t.Errorf("home directory moved: %v", err)
	}
}

func Test_LocalFSCanceledContext(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fsys.ChangeDir(ctx, nil, "/docs"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func Test_securePath(t *testing.T) {
	tests := []struct {
		user ftp.User
		in   string
		want string
	}{
		{nil, "/", "/"},
		{nil, "a/b", "/a/b"},
		{nil, "/../../etc/passwd", "/etc/passwd"},
		{testUser{home: "/home/bob"}, "/../..", "/home/bob"},
		{testUser{home: "home/bob"}, "x/../y", "/home/bob/y"},
		{testUser{}, "/x", "/x"},
	}
	for _, tt := range tests {
		got, err := securePath(tt.user, tt.in)
		if err != nil || got != tt.want {
			t.Errorf("securePath(%v, %q) = %q, %v, want %q", tt.user, tt.in, got, err, tt.want)
		}
	}
}
