// Package output implements the file half of the execution pipeline:
// per-execution workspaces, the before/after snapshot diff that discovers
// what a script wrote, classification of those files, the permanent store
// users download from, and the post-notification cleanup policy.
package output

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sakif/script-runner/internal/model"
)

// categoryByExt is the static classification table. Extensions that appear
// in several categories of the original mapping keep their first match
// (.png is an image, .html is a chart, .md is a report).
var categoryByExt = map[string]model.Category{
	".png":  model.CategoryImages,
	".jpg":  model.CategoryImages,
	".jpeg": model.CategoryImages,
	".gif":  model.CategoryImages,
	".bmp":  model.CategoryImages,
	".tiff": model.CategoryImages,
	".svg":  model.CategoryImages,

	".pdf":  model.CategoryDocuments,
	".doc":  model.CategoryDocuments,
	".docx": model.CategoryDocuments,
	".txt":  model.CategoryDocuments,
	".rtf":  model.CategoryDocuments,

	".csv":  model.CategoryData,
	".xlsx": model.CategoryData,
	".xls":  model.CategoryData,
	".json": model.CategoryData,
	".xml":  model.CategoryData,
	".tsv":  model.CategoryData,

	".html": model.CategoryCharts,

	".md": model.CategoryReports,

	".zip": model.CategoryArchives,
	".tar": model.CategoryArchives,
	".gz":  model.CategoryArchives,
	".tgz": model.CategoryArchives,
}

// Classify returns the category for a file name. Unmapped extensions fall
// into CategoryOther.
func Classify(name string) model.Category {
	ext := strings.ToLower(filepath.Ext(name))
	if cat, ok := categoryByExt[ext]; ok {
		return cat
	}
	return model.CategoryOther
}

// FileStat is what the diff compares: a file counts as new output when it
// was absent from the before-snapshot or its size or mtime changed.
type FileStat struct {
	Size    int64
	ModTime time.Time
}

// Snapshot records every regular file under dir, keyed by slash-separated
// relative path. Hidden files and directories (dot-prefixed) are skipped.
// The snapshot is a polling approximation: files created and deleted again
// between two snapshots are invisible, which is the intended semantics.
func Snapshot(dir string) (map[string]FileStat, error) {
	snap := make(map[string]FileStat)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if hidden(d.Name()) && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		snap[filepath.ToSlash(rel)] = FileStat{Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("output: snapshotting %s: %w", dir, err)
	}
	return snap, nil
}

// Diff re-walks dir and returns a FileRecord for every file that is new or
// changed relative to before, sorted by relative path. Names listed in
// exclude (the script's own source file) are never reported.
func Diff(dir string, before map[string]FileStat, exclude ...string) ([]model.FileRecord, error) {
	after, err := Snapshot(dir)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	records := make([]model.FileRecord, 0, len(after))
	for rel, stat := range after {
		if _, skip := excluded[filepath.Base(rel)]; skip {
			continue
		}
		prev, existed := before[rel]
		if existed && prev.Size == stat.Size && prev.ModTime.Equal(stat.ModTime) {
			continue
		}
		records = append(records, model.FileRecord{
			Name:      filepath.Base(rel),
			Path:      rel,
			Size:      stat.Size,
			SizeHuman: humanSize(stat.Size),
			Category:  Classify(rel),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// Summarize aggregates the records into per-category counts and totals.
func Summarize(records []model.FileRecord) model.FileSummary {
	summary := model.FileSummary{
		Total:          len(records),
		TotalSizeHuman: humanSize(0),
		Categories:     make(map[model.Category]int),
	}
	for _, r := range records {
		summary.Categories[r.Category]++
		summary.TotalSize += r.Size
	}
	summary.TotalSizeHuman = humanSize(summary.TotalSize)
	return summary
}

func humanSize(n int64) string {
	if n == 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
