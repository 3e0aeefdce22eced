package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDispatcherBusy is returned by Submit when the intake queue is full.
var ErrDispatcherBusy = errors.New("processing queue is full")

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans jobs out to an elastic worker pool, taking turns between
// owners so one user's batch of uploads cannot starve everyone else.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[int64]*ownerQueue // pending jobs per owner
	ready     *list.List            // round-robin order of owners with pending jobs
	positions map[int64]*list.Element

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	quit     chan struct{}
	closed   bool
}

func NewDispatcher(cfg DispatcherConfig, handler Handler) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobQueue:  make(chan Job, queueSize),
		queues:    make(map[int64]*ownerQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, func(job Job) {
		d.execute(handler, job)
	})

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	job.Type = Process
	d.mu.Lock()
	closed := d.closed
	if !closed {
		// counted before the job leaves our hands so Close waits for it
		d.inflight.Add(1)
	}
	d.mu.Unlock()
	if closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.inflight.Done()
		return ErrDispatcherBusy
	}
}

// Close stops accepting jobs and waits for queued and running jobs until
// ctx expires, after which their context is cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.cancel()
	close(d.quit)
	d.pool.close()
	return err
}

func (d *Dispatcher) execute(handler Handler, job Job) {
	defer d.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processing job panicked", "document_id", job.DocumentID, "panic", r)
		}
	}()
	handler(d.ctx, job)
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the owner at the front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.OwnerID]
	if q == nil {
		q = &ownerQueue{}
		d.queues[job.OwnerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.OwnerID] = d.ready.PushBack(job.OwnerID)
}

// nextJob pops the next job of the front owner and moves that owner to
// the back of the line.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	ownerID := elem.Value.(int64)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// dispatchOne hands the next job to a worker, blocking until one is free.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	slog.Debug("dispatch processing job", "document_id", job.DocumentID, "owner_id", job.OwnerID, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
