package work

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type WorkerPool struct {
	store       JobStore
	handlers    map[string]Handler
	workers     []*worker
	requeuer    *requeuer
	concurrency int
	started     bool
	mu          sync.Mutex
	logg        *zap.SugaredLogger
}

func NewWorkerPool(store JobStore, concurrency int, logg *zap.SugaredLogger) *WorkerPool {
	wp := WorkerPool{
		store:       store,
		handlers:    make(map[string]Handler),
		requeuer:    newRequeuer(store, logg),
		concurrency: concurrency,
		logg:        logg,
	}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(store, []int64{0, 10, 100, 120}, logg))
	}

	return &wp
}

// RegisterHandler binds a name to a job handler for all workers in pool
func (wp *WorkerPool) RegisterHandler(name string, handler Handler) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("cannot register handler %q on a running pool", name)
	}

	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}
	wp.handlers[name] = handler

	for _, worker := range wp.workers {
		if err := worker.registerHandler(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue adds a job to the queue(to be executed) by creating a DB record based on 'JobParams' provided
func (wp *WorkerPool) Enqueue(job JobParams) error {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return fmt.Errorf("both a name & handler is required for a job")
	}

	argsAsJson, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}

	return wp.store.CreateJob(job.Name, job.Handler, string(argsAsJson), job.Unique)
}

// Start starts all workers in pool i.e the workes can start processing jobs
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}
	wp.requeuer.start()
}

// Stop stops all workers in pool i.e jobs will stop being processed
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			w.stop()
			wg.Done()
		}(w)
	}
	wp.requeuer.stop()
	wg.Wait()
	wp.started = false
}
