package generator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Operation names used in migration file names.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Extension of every migration file.
const Extension = ".js"

// Sanitize lowercases name and replaces anything outside [a-z0-9_] with an
// underscore.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// FileName builds "{timestamp}_{operation}_{subject}.js".
func FileName(ts time.Time, operation, subject string) string {
	return fmt.Sprintf("%d_%s_%s%s", ts.Unix(), operation, subject, Extension)
}

// timestampOf returns the leading numeric part of a migration file name.
func timestampOf(name string) (int64, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ListArtifacts returns the migration files in dir ordered by timestamp. A
// missing folder yields no files.
func ListArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, Extension) {
			continue
		}
		names = append(names, name)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ti, okI := timestampOf(names[i])
		tj, okJ := timestampOf(names[j])
		switch {
		case okI && okJ && ti != tj:
			return ti < tj
		case okI != okJ:
			// files without a timestamp sort first
			return !okI
		}
		return names[i] < names[j]
	})

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// LatestArtifact returns the most recent migration file in dir, or "".
func LatestArtifact(dir string) (string, error) {
	paths, err := ListArtifacts(dir)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}
