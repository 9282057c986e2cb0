// Package snapshot persists a parsed category tree to disk so the slow
// parse phase can be decoupled from reconciliation and replayed later.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// File is the on-disk envelope around a parsed category tree.
type File struct {
	Marketplace string                 `json:"marketplace"`
	TakenAt     time.Time              `json:"taken_at"`
	Roots       []*domain.CategoryFact `json:"roots"`
}

// Write stores the tree at path, overwriting any previous snapshot.
func Write(path, marketplaceName string, roots []*domain.CategoryFact) error {
	file := File{
		Marketplace: marketplaceName,
		TakenAt:     time.Now().UTC(),
		Roots:       roots,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode category snapshot: %w", err)
	}
	if writeErr := os.WriteFile(path, data, 0o644); writeErr != nil {
		return fmt.Errorf("write category snapshot %s: %w", path, writeErr)
	}
	return nil
}

// Read loads a snapshot written by Write.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category snapshot %s: %w", path, err)
	}

	var file File
	if unmarshalErr := json.Unmarshal(data, &file); unmarshalErr != nil {
		return nil, fmt.Errorf("decode category snapshot %s: %w", path, unmarshalErr)
	}
	return &file, nil
}
