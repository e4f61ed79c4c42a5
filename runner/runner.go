package runner

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ridoystarlord/pbmigrato/generator"
	"github.com/ridoystarlord/pbmigrato/parser"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// ArtifactRecord describes one migration file found on disk.
type ArtifactRecord struct {
	Name        string
	Path        string
	Timestamp   time.Time
	Operation   string
	Checksum    string
	Diagnostics []parser.Diagnostic
}

func calculateChecksum(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash)
}

// parseFileName splits "{timestamp}_{operation}_{subject}.js".
func parseFileName(name string) (time.Time, string) {
	parts := strings.SplitN(strings.TrimSuffix(name, generator.Extension), "_", 3)
	if len(parts) < 2 {
		return time.Time{}, ""
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, ""
	}
	return time.Unix(ts, 0), parts[1]
}

// RecoverSnapshot rebuilds the applied schema by replaying the forward block
// of every migration in dir, oldest first. Files that cannot be read or
// statements that cannot be understood are reported and skipped.
func RecoverSnapshot(dir string) (*schema.Snapshot, []parser.Diagnostic, error) {
	records, snap, err := replay(dir)
	if err != nil {
		return nil, nil, err
	}
	var diags []parser.Diagnostic
	for _, r := range records {
		diags = append(diags, r.Diagnostics...)
	}
	return snap, diags, nil
}

// ResolveSnapshot returns the persisted snapshot when snapshotFile exists and
// falls back to recovering it from the migrations in dir.
func ResolveSnapshot(dir, snapshotFile string) (*schema.Snapshot, []parser.Diagnostic, error) {
	if snapshotFile != "" {
		snap, err := schema.LoadSnapshot(snapshotFile)
		if err != nil {
			return nil, nil, err
		}
		if snap != nil {
			return snap, nil, nil
		}
	}
	return RecoverSnapshot(dir)
}

// Status lists the migrations in dir with what the parser made of them.
func Status(dir string) ([]ArtifactRecord, error) {
	records, _, err := replay(dir)
	return records, err
}

func replay(dir string) ([]ArtifactRecord, *schema.Snapshot, error) {
	paths, err := generator.ListArtifacts(dir)
	if err != nil {
		return nil, nil, err
	}

	snap := schema.NewSnapshot()
	records := make([]ArtifactRecord, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		ts, op := parseFileName(name)
		record := ArtifactRecord{Name: name, Path: path, Timestamp: ts, Operation: op}

		content, err := os.ReadFile(path)
		if err != nil {
			record.Diagnostics = append(record.Diagnostics, parser.Diagnostic{
				File:    name,
				Message: fmt.Sprintf("read file: %v", err),
			})
			records = append(records, record)
			continue
		}
		record.Checksum = calculateChecksum(content)

		res := parser.Parse(string(content))
		for _, d := range res.Diagnostics {
			d.File = name
			record.Diagnostics = append(record.Diagnostics, d)
		}
		for _, err := range res.Apply(snap) {
			record.Diagnostics = append(record.Diagnostics, parser.Diagnostic{File: name, Message: err.Error()})
		}
		if ts.After(snap.Timestamp) {
			snap.Timestamp = ts
		}
		records = append(records, record)
	}
	return records, snap, nil
}
