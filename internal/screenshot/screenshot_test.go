package screenshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Alice_the_Great__", SafeName("Alice the Great!?"))
	assert.Equal(t, "bob-1_x", SafeName("bob-1_x"))
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC))
	s := New(dir, clock)

	path, err := s.Save("Alice B.", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "profile-Alice_B_-2024-05-01T12-00-00-500Z.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = s.Save("empty", nil)
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	clock := clockwork.NewFakeClockAt(now)
	s := New(dir, clock)

	old := filepath.Join(dir, "profile-old-1.png")
	fresh := filepath.Join(dir, "profile-new-1.png")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	require.NoError(t, os.Chtimes(old, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(other, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))

	n, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
