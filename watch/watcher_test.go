package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collections: []\n"), 0644))

	a, err := Fingerprint(path)
	require.NoError(t, err)
	b, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(path, []byte("collections:\n  - name: posts\n"), 0644))
	c, err := Fingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprintDirIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.go"), []byte("package models\n"), 0644))

	a, err := Fingerprint(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0644))
	b, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.go"), []byte("package models\n\ntype Post struct{}\n"), 0644))
	c, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprintMissingPath(t *testing.T) {
	_, err := Fingerprint(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcherFiresOnContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collections: []\n"), 0644))

	var calls atomic.Int32
	w := New(path, func() { calls.Add(1) }, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("collections:\n  - name: posts\n"), 0644))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// rewriting identical content is not a change
	require.NoError(t, os.WriteFile(path, []byte("collections:\n  - name: posts\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	w := New(path, func() {})
	require.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
