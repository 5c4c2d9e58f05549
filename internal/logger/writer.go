package logger

import (
	"fmt"
	"sync"
)

// reopenableFile is an io.Writer over an append-mode file whose handle can
// be swapped while writers are active.
type reopenableFile struct {
	mu   sync.Mutex
	path string
	f    fileHandle
}

type fileHandle interface {
	Write(p []byte) (int, error)
	Close() error
}

func newReopenableFile(path string) (*reopenableFile, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &reopenableFile{path: path, f: f}, nil
}

func (r *reopenableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, fmt.Errorf("log file %s is closed", r.path)
	}
	return r.f.Write(p)
}

// Reopen closes the current handle and opens path again.
func (r *reopenableFile) Reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		r.f.Close()
	}
	f, err := openAppend(r.path)
	if err != nil {
		r.f = nil
		return fmt.Errorf("failed to reopen diagnostic log file %s: %w", r.path, err)
	}
	r.f = f
	return nil
}

func (r *reopenableFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
