package filesystem

import "testing"

func Test_LocalFSStatFS(t *testing.T) {
	fsys, _ := newTestFS(t)

	stat, err := fsys.StatFS("/docs")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Bsize == 0 || stat.Blocks == 0 {
		t.Errorf("implausible statfs: %+v", stat)
	}
	if stat.TotalSpace() < stat.FreeSpace() {
		t.Errorf("free space %d exceeds total %d", stat.FreeSpace(), stat.TotalSpace())
	}

	if _, err := fsys.StatFS("/nope"); err == nil {
		t.Error("statfs of a missing directory succeeded")
	}
}
