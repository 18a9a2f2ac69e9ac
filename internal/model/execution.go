package model

import "time"

// ExecutionRequest is the immutable input of one execution attempt:
// which script, which user, the parsed argument list, and whether missing
// packages may be installed automatically.
type ExecutionRequest struct {
	ScriptID    string
	UserID      string
	Arguments   []string
	RawArgs     string // the free-text form the user submitted
	AutoInstall bool
}

// Execution is the aggregate outcome of one attempt to run a script.
// It is created once per attempt, saved after the pipeline finishes, and
// never mutated afterwards. OutputFiles and FileSummary describe what the
// script wrote into its workspace; PermanentDir is where those files live
// until the cleanup policy deletes them.
type Execution struct {
	ID              string       `json:"id"`
	ScriptID        string       `json:"scriptId"`
	UserID          string       `json:"userId"`
	Arguments       string       `json:"arguments"`
	Stdout          string       `json:"stdout"`
	Stderr          string       `json:"stderr"`
	ExitCode        int          `json:"exitCode"`
	TimedOut        bool         `json:"timedOut"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	MissingPackages []string     `json:"missingPackages,omitempty"`
	PackageWarnings []string     `json:"packageWarnings,omitempty"`
	OutputFiles     []FileRecord `json:"outputFiles"`
	FileSummary     FileSummary  `json:"fileSummary"`
	PermanentDir    string       `json:"-"`
	StorageDegraded bool         `json:"storageDegraded,omitempty"`
	EmailSent       bool         `json:"emailSent"`
	CleanedUp       bool         `json:"cleanedUp"`
	CreatedAt       time.Time    `json:"createdAt"`
}
