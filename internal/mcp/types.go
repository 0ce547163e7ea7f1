// Package mcp exposes code search and question answering as MCP tools.
package mcp

import "time"

// ListProjectsInput takes no parameters.
type ListProjectsInput struct{}

// ListProjectsOutput lists every registered project.
type ListProjectsOutput struct {
	Projects []ProjectSummary `json:"projects"`
}

// ProjectSummary describes one project.
type ProjectSummary struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	SourceDir     string     `json:"source_dir"`
	Status        string     `json:"status"`
	FileCount     int        `json:"file_count"`
	Queryable     bool       `json:"queryable"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// SearchCodeInput defines the input parameters for the search_code tool.
type SearchCodeInput struct {
	ProjectID string `json:"project_id" jsonschema:"the project to search"`
	Query     string `json:"query" jsonschema:"what the code you are looking for does, or names it uses"`
	// MaxResults is the maximum number of files to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"maximum number of files to return, default 8"`
}

// SearchCodeOutput contains the search results.
type SearchCodeOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching files found").
	Message string `json:"message,omitempty"`
}

// SearchResult is a single file match from hybrid search.
type SearchResult struct {
	Path        string  `json:"path"`
	Module      string  `json:"module"`
	Score       float64 `json:"score"`
	VectorScore float64 `json:"vector_score"`
	BM25Score   float64 `json:"bm25_score"`
	// Preview is the beginning of the file.
	Preview string `json:"preview"`
}

// AskCodeInput defines the input parameters for the ask_code tool.
type AskCodeInput struct {
	ProjectID string `json:"project_id" jsonschema:"the project to ask about"`
	Question  string `json:"question" jsonschema:"the question about the code base"`
}

// AskCodeOutput is a grounded answer with the files it used.
type AskCodeOutput struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Source is a file an answer is grounded in.
type Source struct {
	Path   string  `json:"path"`
	Module string  `json:"module"`
	Score  float64 `json:"score"`
}

// FetchFileInput defines the input parameters for the fetch_file tool.
type FetchFileInput struct {
	ProjectID string `json:"project_id" jsonschema:"the project the file belongs to"`
	Path      string `json:"path" jsonschema:"the file path relative to the project source directory"`
}

// FetchFileOutput contains the indexed file.
type FetchFileOutput struct {
	Path    string `json:"path"`
	Module  string `json:"module,omitempty"`
	Content string `json:"content,omitempty"`
	// Found indicates whether the file is indexed.
	Found bool `json:"found"`
}

// ListFilesInput defines the input parameters for the list_files tool.
type ListFilesInput struct {
	ProjectID string `json:"project_id" jsonschema:"the project to list"`
}

// ListFilesOutput contains the list of all indexed paths.
type ListFilesOutput struct {
	Paths []string `json:"paths"`
	Count int      `json:"count"`
}

// StatusInput defines the input parameters for the get_index_status tool.
type StatusInput struct {
	ProjectID string `json:"project_id" jsonschema:"the project to report on"`
}

// StatusOutput reports the index state of a project.
type StatusOutput struct {
	ProjectID      string     `json:"project_id"`
	Status         string     `json:"status"`
	FileCount      int        `json:"file_count"`
	IndexSizeBytes int64      `json:"index_size_bytes"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	// ChunkCount and Dimension describe the published collection, if any.
	ChunkCount int `json:"chunk_count"`
	Dimension  int `json:"dimension,omitempty"`
	// Progress is the latest progress of a running job.
	Progress *Progress `json:"progress,omitempty"`
}

// Progress mirrors the latest indexing progress event.
type Progress struct {
	Current     int     `json:"current"`
	Total       int     `json:"total"`
	Percent     float64 `json:"percent"`
	CurrentFile string  `json:"current_file"`
}
