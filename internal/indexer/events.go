package indexer

// EventType names an indexing progress event.
type EventType string

const (
	EventScanStart    EventType = "scan_start"
	EventScanComplete EventType = "scan_complete"
	EventIndexing     EventType = "indexing"
	EventFileError    EventType = "file_error"
	EventSaving       EventType = "saving"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one entry of a job's progress stream. Data holds the payload
// type matching Type. Serialized as {"type": ..., "data": ...}.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// ScanStart is the payload of EventScanStart.
type ScanStart struct {
	SourceDir string `json:"source_dir"`
}

// ScanComplete is the payload of EventScanComplete.
type ScanComplete struct {
	TotalFiles int `json:"total_files"`
}

// Progress is the payload of EventIndexing, emitted after every file.
type Progress struct {
	Current                   int     `json:"current"`
	Total                     int     `json:"total"`
	CurrentFile               string  `json:"current_file"`
	Percent                   float64 `json:"percent"`
	EstimatedRemainingSeconds int     `json:"estimated_remaining_seconds"`
}

// FileError is the payload of EventFileError.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Saving is the payload of EventSaving.
type Saving struct {
	FileCount int `json:"file_count"`
}

// Complete is the payload of EventComplete.
type Complete struct {
	FileCount       int     `json:"file_count"`
	IndexSizeBytes  int64   `json:"index_size_bytes"`
	FailedCount     int     `json:"failed_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Failure is the payload of EventError.
type Failure struct {
	Message string `json:"message"`
}
