package model

import "time"

// Script represents an admin-uploaded Python script that users can run.
//
// Requirements is a comma-separated list of packages the uploader declared;
// it is merged with imports detected from the source when an execution
// checks dependencies. OutputType is a hint for the dashboard ("files",
// "text" or "both") and has no effect on execution.
type Script struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Filename     string    `json:"filename"`
	Description  string    `json:"description"`
	Requirements string    `json:"requirements"`
	OutputType   string    `json:"outputType"`
	CreatedAt    time.Time `json:"createdAt"`
}
