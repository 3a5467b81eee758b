package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// CheckpointStore keeps the collected items in a JSON array file that is
// fully rewritten on every save. A sidecar "<path>.page" file holds the last
// page whose items were saved.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore returns a store backed by path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Path returns the checkpoint file path.
func (s *CheckpointStore) Path() string {
	return s.path
}

func (s *CheckpointStore) pagePath() string {
	return s.path + ".page"
}

// Load returns the saved items. A missing file is an empty checkpoint.
func (s *CheckpointStore) Load() ([]*models.Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	var items []*models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}

	out := items[:0]
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}

// Save replaces the checkpoint with items.
func (s *CheckpointStore) Save(items []*models.Item) error {
	if items == nil {
		items = []*models.Item{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(items); err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	return WriteFileAtomic(s.path, buf.Bytes(), 0o644)
}

// SavePage records page as the last page whose items are checkpointed.
func (s *CheckpointStore) SavePage(page int) error {
	return WriteFileAtomic(s.pagePath(), []byte(strconv.Itoa(page)), 0o644)
}

// LoadPage returns the last checkpointed page, or 0 when none was recorded.
func (s *CheckpointStore) LoadPage() (int, error) {
	data, err := os.ReadFile(s.pagePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, &PersistenceError{Op: "load", Path: s.pagePath(), Err: err}
	}
	page, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || page < 0 {
		return 0, &PersistenceError{Op: "decode", Path: s.pagePath(), Err: fmt.Errorf("corrupted page marker %q", data)}
	}
	return page, nil
}

// Remove deletes the checkpoint and its page marker.
func (s *CheckpointStore) Remove() error {
	for _, path := range []string{s.path, s.pagePath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &PersistenceError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}
