package testutil

import (
	"os"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// FaultyFs wraps an afero.Fs and injects failures. Files opened for writing
// whose name satisfies FailWrites accept WriteLimit bytes and then fail with
// ENOSPC, like a full disk.
type FaultyFs struct {
	afero.Fs

	WriteLimit int64
	FailWrites func(name string) bool
	FailRename func(oldname string) bool
	FailRemove func(name string) bool

	mu      sync.Mutex
	written map[string]int64
}

// NewFaultyFs wraps base with no failures enabled.
func NewFaultyFs(base afero.Fs) *FaultyFs {
	return &FaultyFs{Fs: base, written: make(map[string]int64)}
}

func (f *FaultyFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (f *FaultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0
	if writable && f.FailWrites != nil && f.FailWrites(name) {
		return &faultyFile{File: file, fs: f, limit: f.WriteLimit}, nil
	}
	return file, nil
}

func (f *FaultyFs) Rename(oldname, newname string) error {
	if f.FailRename != nil && f.FailRename(oldname) {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EACCES}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultyFs) Remove(name string) error {
	if f.FailRemove != nil && f.FailRemove(name) {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EACCES}
	}
	return f.Fs.Remove(name)
}

// LstatIfPossible delegates to the wrapped filesystem when it supports Lstat.
func (f *FaultyFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	if lst, ok := f.Fs.(afero.Lstater); ok {
		return lst.LstatIfPossible(name)
	}
	info, err := f.Fs.Stat(name)
	return info, false, err
}

// Written returns how many bytes were accepted for name before failing.
func (f *FaultyFs) Written(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[name]
}

type faultyFile struct {
	afero.File
	fs    *FaultyFs
	limit int64
	n     int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	room := ff.limit - ff.n
	if room <= 0 {
		return 0, &os.PathError{Op: "write", Path: ff.Name(), Err: syscall.ENOSPC}
	}
	short := int64(len(p)) > room
	if short {
		p = p[:room]
	}
	n, err := ff.File.Write(p)
	ff.n += int64(n)

	ff.fs.mu.Lock()
	ff.fs.written[ff.Name()] = ff.n
	ff.fs.mu.Unlock()

	if err == nil && short {
		err = &os.PathError{Op: "write", Path: ff.Name(), Err: syscall.ENOSPC}
	}
	return n, err
}

var _ afero.Lstater = (*FaultyFs)(nil)
