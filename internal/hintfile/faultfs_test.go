package hintfile

import (
	"os"

	"github.com/spf13/afero"
)

// faultFs wraps an afero.Fs and lets tests shorten writes, count syncs and inject errors
type faultFs struct {
	afero.Fs
	maxWrite   int  // If > 0, every Write call writes at most maxWrite bytes
	stallWrite bool // Write returns (0, nil)
	writeErr   error
	syncErr    error
	closeErr   error
	removeErr  error

	writeCalls int
	syncs      int
}

func newFaultFs() *faultFs {
	return &faultFs{Fs: afero.NewMemMapFs()}
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *faultFs) Remove(name string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Fs.Remove(name)
}

type faultFile struct {
	afero.File
	fs *faultFs
}

func (f *faultFile) Write(p []byte) (int, error) {
	f.fs.writeCalls++
	if f.fs.writeErr != nil {
		return 0, f.fs.writeErr
	}
	if f.fs.stallWrite {
		return 0, nil
	}
	if f.fs.maxWrite > 0 && len(p) > f.fs.maxWrite {
		p = p[:f.fs.maxWrite]
	}
	return f.File.Write(p)
}

func (f *faultFile) Sync() error {
	f.fs.syncs++
	if f.fs.syncErr != nil {
		return f.fs.syncErr
	}
	return f.File.Sync()
}

func (f *faultFile) Close() error {
	err := f.File.Close()
	if f.fs.closeErr != nil {
		return f.fs.closeErr
	}
	return err
}
