package worker

import (
	"log/slog"
	"time"
)

// Worker processes documents handed to it over its private channel. A Stop
// job ends it; the pool sends one when the worker has idled too long.
type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go w.loop()
}

func (w *Worker) loop() {
	slog.Debug("processing worker started", "worker_id", w.id)
	for job := range w.jobChannel {
		if job.Type == Stop {
			slog.Debug("processing worker retired", "worker_id", w.id)
			return
		}
		started := time.Now()
		w.pool.exec(job)
		slog.Debug("processing job finished", "worker_id", w.id, "document_id", job.DocumentID, "elapsed", time.Since(started))
		w.pool.Release(w.jobChannel)
	}
}
