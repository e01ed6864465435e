package jail

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStageCopiesFileByContent(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcFile := filepath.Join(src, "hello.txt")
	if err := os.WriteFile(srcFile, []byte("Hello there.\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Stage(dst, []string{srcFile}); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "hello.txt"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(got) != "Hello there.\n" {
		t.Errorf("staged content = %q", got)
	}
}

func TestStageMissingSourceFails(t *testing.T) {
	dst := t.TempDir()
	if err := Stage(dst, []string{"/no/such/path"}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestStagePreservesSymlinksWithoutFollowing(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	// A directory not in the staged set, containing the real data.
	notCopied := t.TempDir()
	target := filepath.Join(notCopied, "linked.txt")
	if err := os.WriteFile(target, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	copied := filepath.Join(src, "copied")
	if err := os.Mkdir(copied, 0755); err != nil {
		t.Fatal(err)
	}
	hereTxt := filepath.Join(copied, "here.txt")
	if err := os.WriteFile(hereTxt, []byte("012345"), 0644); err != nil {
		t.Fatal(err)
	}
	linkTxt := filepath.Join(copied, "link.txt")
	if err := os.Symlink(target, linkTxt); err != nil {
		t.Fatal(err)
	}

	if err := Stage(dst, []string{copied}); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	stagedLink := filepath.Join(dst, "copied", "link.txt")
	info, err := os.Lstat(stagedLink)
	if err != nil {
		t.Fatalf("lstat staged link: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("staged link.txt should still be a symlink, not a copy of the target's data")
	}
	linkTarget, err := os.Readlink(stagedLink)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if linkTarget != target {
		t.Errorf("symlink target = %q, want %q", linkTarget, target)
	}

	stagedHere := filepath.Join(dst, "copied", "here.txt")
	if got, err := os.ReadFile(stagedHere); err != nil || string(got) != "012345" {
		t.Errorf("here.txt content = %q, err=%v", got, err)
	}
}

func TestLockDownStripsWritePermission(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	if err := LockDown(dir); err != nil {
		t.Fatalf("LockDown: %v", err)
	}

	fi, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0222 != 0 {
		t.Errorf("file still writable after LockDown: %v", fi.Mode())
	}
	di, err := os.Stat(sub)
	if err != nil {
		t.Fatal(err)
	}
	if di.Mode().Perm()&0222 != 0 {
		t.Errorf("dir still writable after LockDown: %v", di.Mode())
	}

	if err := Unlock(dir); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	fi, _ = os.Stat(file)
	if fi.Mode().Perm()&0200 == 0 {
		t.Errorf("file not writable after Unlock: %v", fi.Mode())
	}
}

func TestWriteAndRemoveInlineCode(t *testing.T) {
	dir := t.TempDir()
	if err := WriteInlineCode(dir, []byte("print(1)")); err != nil {
		t.Fatalf("WriteInlineCode: %v", err)
	}
	path := filepath.Join(dir, jailedCodeName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("jailed_code missing: %v", err)
	}
	if err := RemoveInlineCode(dir); err != nil {
		t.Fatalf("RemoveInlineCode: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("jailed_code should be removed, err=%v", err)
	}
}
