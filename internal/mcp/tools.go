package mcp

// StatusInput defines the input schema for the library_status tool.
type StatusInput struct {
	Consistency bool `json:"consistency,omitempty" jsonschema:"also run the consistency checker"`
}

// BuildInput defines the input schema for the library_build tool.
type BuildInput struct {
	PDFDir string `json:"pdf_dir,omitempty" jsonschema:"directory of source documents, defaults to the configured one"`
}

// RepairInput defines the input schema for the library_repair tool.
type RepairInput struct {
	Mode               string `json:"mode,omitempty" jsonschema:"repair or verify, default repair"`
	RebuildSearchIndex *bool  `json:"rebuild_search_index,omitempty" jsonschema:"rebuild search artifacts after repairing, default true"`
	PruneTmp           bool   `json:"prune_tmp,omitempty" jsonschema:"remove leftover temporary files"`
}

// JobInput defines the input schema for the job_status and job_cancel tools.
type JobInput struct {
	JobID string `json:"job_id" jsonschema:"the id returned when the job was created"`
}

// SearchInput defines the input schema for the library_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query to execute"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// JobCreatedOutput is returned by tools that start a job.
type JobCreatedOutput struct {
	JobID string `json:"job_id"`
}
