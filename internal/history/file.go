package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// FileStore keeps records as append-only JSON lines in a local file, the
// way a single-user desktop install keeps its past sessions. The whole file
// is read into memory on open; a later line with the same id replaces an
// earlier one.
type FileStore struct {
	mem *MemoryStore

	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads the records in path. A missing file is an empty store
// and is created on the first Save.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{mem: NewMemoryStore(), path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("history: %s line %d: %w", path, line, err)
		}
		if err := fs.mem.Save(context.Background(), &rec); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: read file: %w", err)
	}
	return fs, nil
}

// Save implements [Store]. The record is appended to the file before it
// becomes visible to List and Get.
func (fs *FileStore) Save(ctx context.Context, rec *Record) error {
	Prepare(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("history: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("history: close file: %w", err)
	}
	return fs.mem.Save(ctx, rec)
}

// List implements [Store].
func (fs *FileStore) List(ctx context.Context, limit int) ([]Record, error) {
	return fs.mem.List(ctx, limit)
}

// Get implements [Store].
func (fs *FileStore) Get(ctx context.Context, id string) (Record, error) {
	return fs.mem.Get(ctx, id)
}
