package types

import (
	"time"
)

// SourceRef points at an already uploaded object in storage.
type SourceRef struct {
	Container string `json:"bucket"`
	ObjectKey string `json:"key"`
}

func (r SourceRef) String() string {
	return r.Container + "/" + r.ObjectKey
}

type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentExtracted DocumentStatus = "extracted"
	DocumentFailed    DocumentStatus = "failed"
)

// DocumentRecord tracks one uploaded document through extraction.
// Key is stable per upload and doubles as the IndexEntry id.
type DocumentRecord struct {
	Key           string         `json:"key"`
	SourceRef     SourceRef      `json:"source_ref"`
	ExtractedText *string        `json:"extracted_text,omitempty"`
	Status        DocumentStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IndexEntry is one vector record. ID equals the DocumentRecord key.
type IndexEntry struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
	Text   string    `json:"text"`
}

// RetrievalHit is a single similarity search result, higher score is closer.
type RetrievalHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type Answer struct {
	Text     string         `json:"answer"`
	Sources  []RetrievalHit `json:"sources"`
	Grounded bool           `json:"grounded"`
	Overlap  float64        `json:"overlap"`
	// Code is NO_EVIDENCE when Text is the fixed reply for an empty retrieval.
	Code     string         `json:"code,omitempty"`
}

type KnowledgeBaseStatus string

const (
	KnowledgeBasePending KnowledgeBaseStatus = "pending"
	KnowledgeBaseReady   KnowledgeBaseStatus = "ready"
	KnowledgeBaseFailed  KnowledgeBaseStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s KnowledgeBaseStatus) Terminal() bool {
	return s == KnowledgeBaseReady || s == KnowledgeBaseFailed
}

type KnowledgeBaseJob struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	SourceRef     SourceRef           `json:"source_ref"`
	Status        KnowledgeBaseStatus `json:"status"`
	LinkedAgentID *string             `json:"linked_agent_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type JobKind string

const (
	JobExtract JobKind = "extract"
	JobIngest  JobKind = "ingest"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a fire-and-forget pipeline run tracked for the status endpoint.
type Job struct {
	ID        string            `json:"id"`
	Kind      JobKind           `json:"kind"`
	Status    JobStatus         `json:"status"`
	SourceRef SourceRef         `json:"source_ref"`
	Result    map[string]string `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
