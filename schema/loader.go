package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion is written into every persisted snapshot.
const SnapshotVersion = "1"

// LoadSnapshot reads a persisted snapshot. A missing file returns (nil, nil)
// so callers can fall back to recovering state from migration files.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
	}
	if snap.Collections == nil {
		snap.Collections = map[string]Collection{}
	}
	if snap.Version == "" {
		snap.Version = SnapshotVersion
	}
	return &snap, nil
}

// SaveSnapshot writes snap as indented JSON, stamping it with now.
func SaveSnapshot(path string, snap *Snapshot, now time.Time) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	out := *snap
	out.Version = SnapshotVersion
	out.Timestamp = now.UTC()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot folder: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	return nil
}
