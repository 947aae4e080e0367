package object

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tinyrange/rasm/internal/asm"
)

// OutDirEnv names the environment variable holding the default output
// directory.
const OutDirEnv = "OUT_DIR"

var ErrInvalidLibraryName = errors.New("invalid library name")

// Sink receives finished static libraries.
type Sink interface {
	// Put stores the archive bytes for the library called name and returns
	// a description of where they went.
	Put(name string, data []byte) (string, error)
}

// LibraryFile returns the archive file name for a library.
func LibraryFile(name string) string {
	return "lib" + name + ".a"
}

func checkLibraryName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidLibraryName, name)
	}
	return nil
}

// OutDirFromEnv returns $OUT_DIR, or "." when it is unset.
func OutDirFromEnv() string {
	if dir := os.Getenv(OutDirEnv); dir != "" {
		return dir
	}
	return "."
}

// DirSink writes lib<name>.a files into Dir.
type DirSink struct {
	Dir string
}

// Put writes the archive through a temporary file so readers never see a
// partial library.
func (s DirSink) Put(name string, data []byte) (string, error) {
	if err := checkLibraryName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(s.Dir, LibraryFile(name))
	tmp, err := os.CreateTemp(s.Dir, "."+LibraryFile(name)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return path, nil
}

// LinkFlags returns the linker flags that make the library visible to a
// native build.
func (s DirSink) LinkFlags(name string) string {
	return fmt.Sprintf("-L native=%s -l static=%s", s.Dir, name)
}

// MemorySink keeps libraries in memory.
type MemorySink struct {
	mu   sync.Mutex
	libs map[string][]byte
}

func (s *MemorySink) Put(name string, data []byte) (string, error) {
	if err := checkLibraryName(name); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.libs == nil {
		s.libs = make(map[string][]byte)
	}
	s.libs[name] = append([]byte(nil), data...)
	return "memory:" + LibraryFile(name), nil
}

// Get returns a copy of the stored library.
func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.libs[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Names lists stored libraries in sorted order.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.libs))
	for name := range s.libs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Emit archives obj and hands it to sink as library name.
func Emit(sink Sink, name string, obj asm.ObjectFile, opts Options) (string, error) {
	if err := checkLibraryName(name); err != nil {
		return "", err
	}
	data, err := Archive(obj, opts)
	if err != nil {
		return "", err
	}
	where, err := sink.Put(name, data)
	if err != nil {
		return "", fmt.Errorf("store library %q: %w", name, err)
	}
	return where, nil
}
