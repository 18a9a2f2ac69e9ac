package output

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/script-runner/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want model.Category
	}{
		{"chart.png", model.CategoryImages},
		{"photo.JPG", model.CategoryImages},
		{"report.pdf", model.CategoryDocuments},
		{"notes.txt", model.CategoryDocuments},
		{"data.csv", model.CategoryData},
		{"payload.json", model.CategoryData},
		{"interactive.html", model.CategoryCharts},
		{"summary.md", model.CategoryReports},
		{"bundle.zip", model.CategoryArchives},
		{"model.tar", model.CategoryArchives},
		{"weights.bin", model.CategoryOther},
		{"no_extension", model.CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.name), "Classify(%q)", tt.name)
	}
}

func TestSnapshot_SkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "visible.txt", "a")
	writeFile(t, dir, ".hidden", "b")
	writeFile(t, dir, ".cache/inner.txt", "c")

	snap, err := Snapshot(dir)
	require.NoError(t, err)

	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "visible.txt")
}

func TestDiff_ReportsOnlyNewAndChangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing.txt", "before")

	before, err := Snapshot(dir)
	require.NoError(t, err)

	writeFile(t, dir, "chart.png", "pngdata")
	writeFile(t, dir, "sub/data.csv", "a,b,c")

	records, err := Diff(dir, before)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "chart.png", records[0].Path)
	assert.Equal(t, model.CategoryImages, records[0].Category)
	assert.Equal(t, "sub/data.csv", records[1].Path)
	assert.Equal(t, "data.csv", records[1].Name)
	assert.Equal(t, model.CategoryData, records[1].Category)
}

func TestDiff_DetectsModifiedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "log.txt", "v1")

	before, err := Snapshot(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version two"), 0o644))
	// Force a visible mtime change even on coarse filesystems.
	newTime := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	records, err := Diff(dir, before)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "log.txt", records[0].Path)
}

func TestDiff_TransientFileIsInvisible(t *testing.T) {
	dir := t.TempDir()

	before, err := Snapshot(dir)
	require.NoError(t, err)

	// A file created and deleted between snapshots never shows up.
	path := writeFile(t, dir, "scratch.tmp", "gone soon")
	require.NoError(t, os.Remove(path))

	records, err := Diff(dir, before)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDiff_ExcludesNamedFiles(t *testing.T) {
	dir := t.TempDir()

	before, err := Snapshot(dir)
	require.NoError(t, err)

	writeFile(t, dir, "analysis.py", "print('hi')")
	writeFile(t, dir, "result.csv", "1,2")

	records, err := Diff(dir, before, "analysis.py")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "result.csv", records[0].Path)
}

func TestSummarize(t *testing.T) {
	records := []model.FileRecord{
		{Path: "a.png", Size: 1024, Category: model.CategoryImages},
		{Path: "b.png", Size: 2048, Category: model.CategoryImages},
		{Path: "c.csv", Size: 512, Category: model.CategoryData},
	}

	summary := Summarize(records)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, int64(3584), summary.TotalSize)
	assert.Equal(t, 2, summary.Categories[model.CategoryImages])
	assert.Equal(t, 1, summary.Categories[model.CategoryData])
	assert.NotEmpty(t, summary.TotalSizeHuman)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, int64(0), summary.TotalSize)
	assert.Equal(t, "0 B", summary.TotalSizeHuman)
	assert.Empty(t, summary.Categories)
}
