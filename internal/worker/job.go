package worker

import "context"

type JobType string

const (
	Process JobType = "process"
	Stop    JobType = "stop"
)

// Job asks a worker to process one uploaded document.
type Job struct {
	Type       JobType
	OwnerID    int64
	DocumentID int64
	FilePath   string
}

// Handler runs a job. It must not panic the worker; failures are the
// handler's to record.
type Handler func(ctx context.Context, job Job)
