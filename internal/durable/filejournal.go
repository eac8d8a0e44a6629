package durable

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileJournal appends checkpoint records to a file, one JSON line per
// Begin/Complete, and keeps an in-memory index for lookups. Reopening
// the same path replays the log, which is what survives a process crash.
type FileJournal struct {
	mu    sync.Mutex
	f     *os.File
	index map[string]map[int]Record
}

// NewFileJournal opens (or creates) the journal file at path and rebuilds
// the lookup index from its contents.
func NewFileJournal(path string) (*FileJournal, error) {
	index, err := loadJournalIndex(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f, index: index}, nil
}

func loadJournalIndex(path string) (map[string]map[int]Record, error) {
	index := make(map[string]map[int]Record)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		saga, ok := index[rec.SagaID]
		if !ok {
			saga = make(map[int]Record)
			index[rec.SagaID] = saga
		}
		if existing, ok := saga[rec.Seq]; ok && existing.Completed && !rec.Completed {
			// A completed checkpoint is never demoted by a later intent line.
			continue
		}
		saga[rec.Seq] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

func (j *FileJournal) Begin(ctx context.Context, rec Record) error {
	rec.Completed = false
	return j.write(ctx, rec, false)
}

func (j *FileJournal) Complete(ctx context.Context, rec Record) error {
	rec.Completed = true
	return j.write(ctx, rec, true)
}

func (j *FileJournal) write(ctx context.Context, rec Record, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	saga, ok := j.index[rec.SagaID]
	if !ok {
		saga = make(map[int]Record)
		j.index[rec.SagaID] = saga
	}
	if existing, ok := saga[rec.Seq]; ok && existing.Completed && !force {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}
	if err := j.f.Sync(); err != nil {
		return err
	}

	saga[rec.Seq] = rec
	return nil
}

func (j *FileJournal) Lookup(ctx context.Context, sagaID string, seq int) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.index[sagaID][seq]
	return rec, ok, nil
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
