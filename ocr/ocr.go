// Package ocr talks to the asynchronous text detection engine.
package ocr

import "context"

const BlockLine = "LINE"

// Block is one unit of detected text as delivered by the engine.
type Block struct {
	Type string
	Text string
}

type JobStatus string

const (
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusSucceeded  JobStatus = "SUCCEEDED"
	StatusFailed     JobStatus = "FAILED"
)

// JobResult is one status check. Blocks is only filled once the job succeeded.
type JobResult struct {
	Status  JobStatus
	Blocks  []Block
	Message string
}

type Engine interface {
	StartJob(ctx context.Context, container, key string) (string, error)
	JobStatus(ctx context.Context, jobID string) (*JobResult, error)
}
