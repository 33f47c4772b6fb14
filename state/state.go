// Package state remembers which document contents were already parsed so
// repeated runs over the same tree skip unchanged files.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the state file kept inside the state directory.
const FileName = "processed.jsonl"

type Tracker interface {
	AlreadyProcessed(hash string) bool
	MarkProcessed(hash, path string) error
	Snapshot() Snapshot
}

// Snapshot counts known hashes. Added is the part marked by this process.
type Snapshot struct {
	Processed int
	Added     int
}

// Entry is one remembered content hash and the first path it was seen at.
type Entry struct {
	Hash   string    `json:"hash"`
	Path   string    `json:"path"`
	SeenAt time.Time `json:"seen_at"`
}

// Hash returns the hex SHA-256 of everything read from r.
func Hash(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile hashes the file at path.
func HashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()
	return Hash(file)
}

// MemoryTracker keeps hashes for the lifetime of the process.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	added   int
	now     func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[string]Entry), now: time.Now}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	_, ok := m.Lookup(hash)
	return ok
}

// Lookup returns the entry remembered for hash.
func (m *MemoryTracker) Lookup(hash string) (Entry, bool) {
	if hash == "" {
		return Entry{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[hash]
	return e, ok
}

func (m *MemoryTracker) MarkProcessed(hash, path string) error {
	m.remember(hash, path)
	return nil
}

// remember stores a new entry and returns it. ok is false when hash is empty
// or already known; the first path seen for a hash wins.
func (m *MemoryTracker) remember(hash, path string) (Entry, bool) {
	if hash == "" {
		return Entry{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[hash]; exists {
		return Entry{}, false
	}
	e := Entry{Hash: hash, Path: path, SeenAt: m.now().UTC()}
	m.entries[hash] = e
	m.added++
	return e, true
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Processed: len(m.entries), Added: m.added}
}

// FileTracker persists processed content hashes as JSON lines. Hashes marked
// during a run are only appended when persist is set; a dry run loads the
// file but leaves it untouched. A persisting tracker rewrites a file that
// holds repeated or blank lines before appending to it.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool

	writeMu sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
}

func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	f := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, FileName),
		persist:       persist,
	}

	stale, err := f.load()
	if err != nil {
		return nil, err
	}
	if !persist {
		return f, nil
	}

	if stale > 0 {
		if err := f.compact(); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	f.file = file
	f.buf = bufio.NewWriterSize(file, 64*1024)
	f.enc = json.NewEncoder(f.buf)
	return f, nil
}

// load reads the state file into memory and returns how many of its lines
// carry no new hash.
func (f *FileTracker) load() (int, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	stale := 0
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			stale++
			continue
		}

		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return 0, fmt.Errorf("parse state line %d: %w", line, err)
		}
		if _, dup := f.entries[e.Hash]; e.Hash == "" || dup {
			stale++
			continue
		}
		f.entries[e.Hash] = e
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read state file: %w", err)
	}
	return stale, nil
}

// compact replaces the state file with one line per known hash.
func (f *FileTracker) compact() error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), FileName+".*")
	if err != nil {
		return fmt.Errorf("compact state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	f.mu.RLock()
	for _, e := range f.entries {
		if err = enc.Encode(e); err != nil {
			break
		}
	}
	f.mu.RUnlock()
	if err == nil {
		err = w.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("compact state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("compact state file: %w", err)
	}
	return nil
}

func (f *FileTracker) MarkProcessed(hash, path string) error {
	e, added := f.remember(hash, path)
	if !added || !f.persist {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.enc == nil {
		return fmt.Errorf("state file %s is closed", f.path)
	}
	if err := f.enc.Encode(e); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	return nil
}

// Flush writes buffered records and syncs the file.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.flushLocked()
}

func (f *FileTracker) flushLocked() error {
	if f.buf == nil {
		return nil
	}
	if err := f.buf.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file. It is safe to call twice.
func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.file == nil {
		return nil
	}

	err := f.flushLocked()
	if closeErr := f.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close state file: %w", closeErr)
	}
	f.file, f.buf, f.enc = nil, nil, nil
	return err
}
