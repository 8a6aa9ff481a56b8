package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/internal/storage/sqlite"
	"github.com/dyike/cortexdesk/models"
)

// EventRecorder persists stage events in the background so a slow database
// never stalls the pipeline. Events keep their arrival order.
type EventRecorder struct {
	store  *sqlite.Store
	runID  string
	logger *logging.Logger

	events chan models.StageEvent
	closed bool
	gate   sync.RWMutex
	wg     sync.WaitGroup

	mu   sync.Mutex
	seq  int
	errs []error
}

func NewEventRecorder(store *sqlite.Store, runID string, logger *logging.Logger) (*EventRecorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &EventRecorder{
		store:  store,
		runID:  runID,
		logger: logger,
		events: make(chan models.StageEvent, 64),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *EventRecorder) loop() {
	defer r.wg.Done()
	ctx := context.Background()
	for ev := range r.events {
		r.mu.Lock()
		r.seq++
		seq := r.seq
		r.mu.Unlock()

		err := r.store.InsertEvent(ctx, sqlite.EventRecord{
			RunID:  r.runID,
			Seq:    seq,
			Stage:  string(ev.Stage),
			Status: string(ev.Status),
			Detail: ev.Detail,
		})
		if err != nil {
			r.logger.Warn("record stage event", "stage", ev.Stage, "error", err)
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		}
	}
}

// Record enqueues ev. Events recorded after Close are dropped.
func (r *EventRecorder) Record(ev models.StageEvent) {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed {
		return
	}
	r.events <- ev
}

// Close flushes pending events and returns any write errors.
func (r *EventRecorder) Close() error {
	r.gate.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.gate.Unlock()
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
