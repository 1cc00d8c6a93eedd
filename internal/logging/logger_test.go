package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_ = Initialize(Options{})
	})
}

func readCategoryLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_"+string(cat)+".log"))
	require.NoError(t, err)
	return string(data)
}

func TestAllCategoriesLog(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{Dir: dir, DebugMode: true, Level: "debug"}))

	categories := []Category{
		CategoryBoot, CategoryBrowser, CategoryObserver, CategoryQueue,
		CategoryExtract, CategoryReport, CategoryAuth, CategoryConfig,
	}
	for _, cat := range categories {
		assert.True(t, IsCategoryEnabled(cat), "category %s", cat)
		Get(cat).Info("info for %s", cat)
		Get(cat).Debug("debug for %s", cat)
	}
	CloseAll()

	for _, cat := range categories {
		content := readCategoryLog(t, dir, cat)
		assert.Contains(t, content, "info for "+string(cat))
		assert.Contains(t, content, "debug for "+string(cat))
	}
}

func TestProductionModeIsSilent(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{Dir: dir}))

	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategoryQueue))
	Queue("nothing should be written")
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCategoryFilter(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{
		Dir:        dir,
		DebugMode:  true,
		Categories: map[string]bool{"observer": false},
	}))

	assert.False(t, IsCategoryEnabled(CategoryObserver))
	assert.True(t, IsCategoryEnabled(CategoryQueue))

	Observer("dropped")
	Queue("kept")
	CloseAll()

	_, err := os.Stat(filepath.Join(dir, time.Now().Format("2006-01-02")+"_observer.log"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, readCategoryLog(t, dir, CategoryQueue), "kept")
}

func TestLevelFiltersDebug(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{Dir: dir, DebugMode: true, Level: "warn"}))

	QueueDebug("hidden debug")
	Queue("hidden info")
	QueueWarn("visible warn")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryQueue)
	assert.NotContains(t, content, "hidden")
	assert.Contains(t, content, "visible warn")
}

func TestJSONFormatWithFields(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{Dir: dir, DebugMode: true, JSONFormat: true}))

	Get(CategoryQueue).With("task", "t-1", "author", "Alice").Info("task added")
	CloseAll()

	content := strings.TrimSpace(readCategoryLog(t, dir, CategoryQueue))
	assert.True(t, strings.HasPrefix(content, "{"), "expected JSON line, got %q", content)
	assert.Contains(t, content, `"task":"t-1"`)
	assert.Contains(t, content, `"author":"Alice"`)
	assert.Contains(t, content, `"msg":"task added"`)
}

func TestDebugModeRequiresDir(t *testing.T) {
	resetLogging(t)
	err := Initialize(Options{DebugMode: true})
	assert.Error(t, err)
}
