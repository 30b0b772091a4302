package obex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sink receives the body of an accepted Put.
type Sink interface {
	io.WriteCloser
}

// Opener is implemented by sinks that acquire their resource only when the
// transfer starts.
type Opener interface {
	Open() error
}

// Remover is implemented by sinks that can discard what they received.
type Remover interface {
	Remove() error
}

// Acceptor decides whether an incoming object is accepted. It returns the
// Sink to write it to, or nil to refuse it. AcceptFile may block and may
// call back into s, including s.Release.
type Acceptor interface {
	AcceptFile(s *Session, name, typ string, size uint32, description string) Sink
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(s *Session, name, typ string, size uint32, description string) Sink

func (f AcceptorFunc) AcceptFile(s *Session, name, typ string, size uint32, description string) Sink {
	return f(s, name, typ, size, description)
}

// InboxAcceptor accepts every object into a file in Dir.
type InboxAcceptor struct {
	Dir string
}

// AcceptFile returns a FileSink for a file named after the object. Names
// are reduced to their last path element and made unique within Dir.
func (a InboxAcceptor) AcceptFile(_ *Session, name, _ string, _ uint32, _ string) Sink {
	return &FileSink{dir: a.Dir, name: safeName(name)}
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "received"
	}
	return name
}

// FileSink writes an object to a new file. The file is created by Open, so
// a refused or never-started transfer leaves nothing behind.
type FileSink struct {
	dir  string
	name string
	file *os.File
	path string
}

// NewFileSink returns a sink that creates name inside dir.
func NewFileSink(dir, name string) *FileSink {
	return &FileSink{dir: dir, name: safeName(name)}
}

// Path returns the file that was created, or "" before Open.
func (f *FileSink) Path() string {
	return f.path
}

// Open creates the file. A numeric suffix is added when the name is taken.
func (f *FileSink) Open() error {
	if f.file != nil {
		return nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	ext := filepath.Ext(f.name)
	base := strings.TrimSuffix(f.name, ext)
	for i := 0; ; i++ {
		name := f.name
		if i > 0 {
			name = base + "-" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(f.dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		f.file, f.path = file, path
		return nil
	}
}

func (f *FileSink) Write(p []byte) (int, error) {
	if f.file == nil {
		if err := f.Open(); err != nil {
			return 0, err
		}
	}
	return f.file.Write(p)
}

func (f *FileSink) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Remove deletes the file.
func (f *FileSink) Remove() error {
	if f.path == "" {
		return nil
	}
	f.Close()
	err := os.Remove(f.path)
	f.path = ""
	return err
}
