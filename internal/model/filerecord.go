package model

// Category classifies an output file by its extension.
type Category string

const (
	CategoryImages    Category = "images"
	CategoryDocuments Category = "documents"
	CategoryData      Category = "data"
	CategoryCharts    Category = "charts"
	CategoryReports   Category = "reports"
	CategoryArchives  Category = "archives"
	CategoryOther     Category = "other"
)

// FileRecord describes one output artifact produced by a script.
// It is derived from a workspace snapshot comparison and lives only inside
// its parent Execution; Path is relative to the execution's directory and
// always uses forward slashes.
type FileRecord struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Size      int64    `json:"size"`
	SizeHuman string   `json:"sizeHuman"`
	Category  Category `json:"category"`
}

// FileSummary aggregates the output files of one execution.
type FileSummary struct {
	Total          int              `json:"total"`
	TotalSize      int64            `json:"totalSize"`
	TotalSizeHuman string           `json:"totalSizeHuman"`
	Categories     map[Category]int `json:"categories"`
}
