package jail

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const jailedCodeName = "jailed_code"

// Stage copies each entry of files into dir. A plain file is copied by
// content under its basename; a directory is recursively copied with one
// rule that must never be relaxed: symbolic links inside the copied tree are
// preserved as symbolic links, never followed to copy the target's data. A
// caller must not be able to leak files outside the staged set into the
// sandbox just because a directory they named contained a symlink pointing
// out of it.
func Stage(dir string, files []string) error {
	for _, src := range files {
		info, err := os.Lstat(src)
		if err != nil {
			return &StagingError{Op: "stat", Path: src, Err: err}
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if info.IsDir() {
			if err := copyTree(src, dst); err != nil {
				return err
			}
		} else if err := copyEntry(src, dst, info); err != nil {
			return err
		}
	}
	return nil
}

// LockDown walks dir and strips write permission from every entry so the
// sandbox user — who is never the owner of staged files — can read and
// traverse but not write, delete, or create anything in the staged tree.
// The staging directory itself is left untouched by LockDown: its caller
// (Session) keeps it writable by the host user so teardown can remove it.
func LockDown(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &StagingError{Op: "readdir", Path: dir, Err: err}
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := lockDownTree(path); err != nil {
			return err
		}
	}
	return nil
}

func lockDownTree(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return &StagingError{Op: "stat", Path: path, Err: err}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// Permission bits on a symlink itself are meaningless on Linux;
		// what matters is that it was never followed during Stage.
		return nil
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return &StagingError{Op: "readdir", Path: path, Err: err}
		}
		for _, e := range entries {
			if err := lockDownTree(filepath.Join(path, e.Name())); err != nil {
				return err
			}
		}
		// Traversable (search bit) but not writable: 0555.
		if err := os.Chmod(path, 0555); err != nil {
			return &StagingError{Op: "chmod", Path: path, Err: err}
		}
		return nil
	}
	mode := os.FileMode(0444)
	if info.Mode()&0111 != 0 {
		mode = 0555 // preserve executability for copied scripts/binaries
	}
	if err := os.Chmod(path, mode); err != nil {
		return &StagingError{Op: "chmod", Path: path, Err: err}
	}
	return nil
}

// Unlock reverses LockDown so the host user can remove the tree during
// teardown even though some entries were made read-only.
func Unlock(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		mode := os.FileMode(0755)
		if !d.IsDir() {
			mode = 0644
			if info.Mode()&0111 != 0 {
				mode = 0755
			}
		}
		os.Chmod(path, mode)
		return nil
	})
}

// WriteInlineCode writes code to jailed_code inside dir, used when a run
// supplies source inline rather than via files.
func WriteInlineCode(dir string, code []byte) error {
	path := filepath.Join(dir, jailedCodeName)
	if err := os.WriteFile(path, code, 0644); err != nil {
		return &StagingError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// RemoveInlineCode removes jailed_code after a run so the staging directory
// can be reused cleanly for another command in the same Session.
func RemoveInlineCode(dir string) error {
	path := filepath.Join(dir, jailedCodeName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StagingError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// copyTree recursively copies src into dst, preserving symlinks as links.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0775); err != nil {
		return &StagingError{Op: "mkdir", Path: dst, Err: err}
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return &StagingError{Op: "readdir", Path: src, Err: err}
	}
	for _, e := range entries {
		childSrc := filepath.Join(src, e.Name())
		childDst := filepath.Join(dst, e.Name())
		info, err := os.Lstat(childSrc)
		if err != nil {
			return &StagingError{Op: "stat", Path: childSrc, Err: err}
		}
		if info.IsDir() {
			if err := copyTree(childSrc, childDst); err != nil {
				return err
			}
			continue
		}
		if err := copyEntry(childSrc, childDst, info); err != nil {
			return err
		}
	}
	return nil
}

// copyEntry copies one non-directory filesystem entry. A symlink is
// recreated as a symlink pointing at the same target text — never resolved,
// never dereferenced — so a link escaping the staged set becomes a dangling
// link inside the jail rather than a channel for its target's bytes.
func copyEntry(src, dst string, info fs.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return &StagingError{Op: "readlink", Path: src, Err: err}
		}
		if err := os.Symlink(target, dst); err != nil {
			return &StagingError{Op: "symlink", Path: dst, Err: err}
		}
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return &StagingError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return &StagingError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &StagingError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &StagingError{Op: "close", Path: dst, Err: err}
	}
	return nil
}
