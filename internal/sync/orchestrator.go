package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"backend/internal/shopify"
	"backend/internal/store"
)

const (
	// Above this many changed orders, an incremental run would hammer the
	// paged API; hand off to a bulk operation instead.
	countThreshold = 100
	// Upsert chunk size, bounds single-call payload and memory.
	upsertChunk = 1000
	// Cap on stored unfulfilled orders re-verified per incremental run.
	unfulfilledLimit = 1000
)

// RemoteAPI is what the orchestrator needs from the Shopify client.
type RemoteAPI interface {
	CountSince(ctx context.Context, since string, threshold int) (int, error)
	FetchIncremental(ctx context.Context, since string) ([]store.Order, error)
	FetchByID(ctx context.Context, id string) (*store.Order, error)
	FetchByIDs(ctx context.Context, ids []string) ([]store.Order, error)
	StartBulk(ctx context.Context, since *string) (string, error)
	CurrentOperation(ctx context.Context) (*shopify.Operation, error)
	PollOperation(ctx context.Context, id string) (*shopify.Operation, error)
	DownloadAndParse(ctx context.Context, url string) ([]store.Order, error)
}

// OrderRepo is the slice of the order store the orchestrator uses.
type OrderRepo interface {
	Upsert(ctx context.Context, o store.Order) (bool, error)
	UpsertBatch(ctx context.Context, orders []store.Order) error
	GetByID(ctx context.Context, id string) (*store.Order, error)
	GetUnfulfilled(ctx context.Context, limit int) ([]store.Order, error)
	SetSyncStatus(ctx context.Context, id, status, syncErr string) error
}

// StateRepo is the slice of the sync state store the orchestrator uses.
type StateRepo interface {
	LastSyncAt(ctx context.Context) (string, error)
	SetLastSyncAt(ctx context.Context, iso string) error
	BulkState(ctx context.Context) (store.BulkState, error)
	SetBulkPending(ctx context.Context, operationID string) error
	SetBulkIdle(ctx context.Context, operationID string, synced int) error
	SetBulkFailed(ctx context.Context, operationID string) error
	SetBulkCanceled(ctx context.Context, operationID string) error
	ClaimFinalize(ctx context.Context, operationID string) (bool, error)
}

// Notifier publishes bulk sync outcomes. May be nil.
type Notifier interface {
	BulkSyncCompleted(ctx context.Context, operationID string, synced int)
	BulkSyncFailed(ctx context.Context, operationID, reason string)
}

// Archiver keeps raw bulk result files. May be nil.
type Archiver interface {
	Archive(ctx context.Context, operationID, url string) error
}

// ConflictError signals that a bulk operation is already in flight; callers
// map it to a 409 carrying the running operation id.
type ConflictError struct {
	OperationID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bulk sync already running: %s", e.OperationID)
}

// Result is the outcome of one sync invocation.
type Result struct {
	Method      string // "bulk" or "incremental"
	Status      string // "pending" on the bulk path
	OperationID string
	Synced      int
	New         int
	Updated     int
}

// StatusResult is the answer to a bulk status poll.
type StatusResult struct {
	Status      string `json:"status"`
	OperationID string `json:"operationId,omitempty"`
	Synced      *int   `json:"synced,omitempty"`
}

// Orchestrator decides between bulk and incremental syncs, drives bulk
// finalization, and reconciles webhook-written orders with batch runs.
type Orchestrator struct {
	remote   RemoteAPI
	orders   OrderRepo
	state    StateRepo
	tasks    TaskSubmitter
	notifier Notifier
	archiver Archiver
	nowFunc  func() time.Time
}

func NewOrchestrator(remote RemoteAPI, orders OrderRepo, state StateRepo, tasks TaskSubmitter) *Orchestrator {
	return &Orchestrator{
		remote:  remote,
		orders:  orders,
		state:   state,
		tasks:   tasks,
		nowFunc: time.Now,
	}
}

// WithTasks sets the finalize task submitter after construction. Needed when
// the submitter runs finalization inline and so refers back to the
// orchestrator.
func (o *Orchestrator) WithTasks(t TaskSubmitter) *Orchestrator {
	o.tasks = t
	return o
}

func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archiver = a
	return o
}

// Run performs one sync. First run ever always goes bulk; afterwards the
// changed-order count picks the path. Returns ConflictError when a bulk
// operation is already in flight.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	op, err := o.remote.CurrentOperation(ctx)
	if err != nil {
		return nil, fmt.Errorf("check current operation: %w", err)
	}
	if op.InFlight() {
		return nil, &ConflictError{OperationID: op.ID}
	}

	last, err := o.state.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	if last == "" {
		return o.startBulk(ctx, nil)
	}

	count, err := o.remote.CountSince(ctx, last, countThreshold)
	if err != nil {
		return nil, fmt.Errorf("count changed orders: %w", err)
	}
	if count > countThreshold {
		return o.startBulk(ctx, &last)
	}

	return o.runIncremental(ctx, last)
}

func (o *Orchestrator) startBulk(ctx context.Context, since *string) (*Result, error) {
	opID, err := o.remote.StartBulk(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("start bulk: %w", err)
	}
	if err := o.state.SetBulkPending(ctx, opID); err != nil {
		return nil, err
	}

	scope := "all orders"
	if since != nil {
		scope = "updated since " + *since
	}
	log.Printf("sync: bulk operation %s started (%s)", opID, scope)

	return &Result{Method: "bulk", Status: store.BulkStatusPending, OperationID: opID}, nil
}

func (o *Orchestrator) runIncremental(ctx context.Context, last string) (*Result, error) {
	incoming, err := o.remote.FetchIncremental(ctx, last)
	if err != nil {
		return nil, fmt.Errorf("incremental fetch: %w", err)
	}

	// Re-verify stored unfulfilled orders by id. A pure updated_at filter can
	// miss fulfillment flips through clock skew or partial field updates.
	unfulfilled, err := o.orders.GetUnfulfilled(ctx, unfulfilledLimit)
	if err != nil {
		return nil, err
	}
	if len(unfulfilled) > 0 {
		ids := make([]string, 0, len(unfulfilled))
		for _, u := range unfulfilled {
			ids = append(ids, u.ID)
		}
		refreshed, err := o.remote.FetchByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("re-fetch unfulfilled: %w", err)
		}
		incoming = append(incoming, refreshed...)
	}

	merged := mergeByID(incoming)

	newCount, updatedCount := 0, 0
	for _, m := range merged {
		existing, err := o.orders.GetByID(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case existing == nil:
			newCount++
		case len(Compare(*existing, m)) > 0:
			updatedCount++
		}
	}

	if err := o.upsertChunked(ctx, merged); err != nil {
		return nil, err
	}

	// Watermark moves only after the writes landed; a crash mid-sync must not
	// lose the next incremental window.
	if err := o.state.SetLastSyncAt(ctx, o.nowFunc().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	log.Printf("sync: incremental done, synced=%d new=%d updated=%d", len(merged), newCount, updatedCount)
	return &Result{
		Method:  "incremental",
		Synced:  len(merged),
		New:     newCount,
		Updated: updatedCount,
	}, nil
}

func (o *Orchestrator) upsertChunked(ctx context.Context, orders []store.Order) error {
	for start := 0; start < len(orders); start += upsertChunk {
		end := start + upsertChunk
		if end > len(orders) {
			end = len(orders)
		}
		if err := o.orders.UpsertBatch(ctx, orders[start:end]); err != nil {
			return fmt.Errorf("upsert batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// mergeByID deduplicates by order id; later entries win.
func mergeByID(orders []store.Order) []store.Order {
	idx := make(map[string]int, len(orders))
	merged := make([]store.Order, 0, len(orders))
	for _, o := range orders {
		if i, seen := idx[o.ID]; seen {
			merged[i] = o
			continue
		}
		idx[o.ID] = len(merged)
		merged = append(merged, o)
	}
	return merged
}

// BulkStatus answers a status poll, and when it discovers a completed
// operation, claims and hands off finalization. The caller always gets an
// immediate answer; finalization runs in the background.
func (o *Orchestrator) BulkStatus(ctx context.Context) (*StatusResult, error) {
	st, err := o.state.BulkState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status != store.BulkStatusPending {
		return &StatusResult{Status: st.Status, OperationID: st.OperationID, Synced: st.Synced}, nil
	}

	var op *shopify.Operation
	if st.OperationID != "" {
		op, err = o.remote.PollOperation(ctx, st.OperationID)
	} else {
		op, err = o.remote.CurrentOperation(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("poll bulk operation: %w", err)
	}
	if op == nil {
		return &StatusResult{Status: store.BulkStatusPending, OperationID: st.OperationID}, nil
	}

	switch op.Status {
	case shopify.OpCompleted:
		if st.Synced != nil {
			// Finalized already; the pending read was stale.
			return &StatusResult{Status: store.BulkStatusIdle, OperationID: op.ID, Synced: st.Synced}, nil
		}
		claimed, err := o.state.ClaimFinalize(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		if claimed {
			if err := o.tasks.Submit(ctx, FinalizeTask{OperationID: op.ID, URL: op.URL}); err != nil {
				return nil, fmt.Errorf("submit finalize task: %w", err)
			}
			log.Printf("sync: finalize submitted for operation %s", op.ID)
		}
		return &StatusResult{Status: store.BulkStatusPending, OperationID: op.ID}, nil
	case shopify.OpFailed:
		if err := o.state.SetBulkFailed(ctx, op.ID); err != nil {
			return nil, err
		}
		return &StatusResult{Status: store.BulkStatusFailed, OperationID: op.ID}, nil
	case shopify.OpCanceled:
		if err := o.state.SetBulkCanceled(ctx, op.ID); err != nil {
			return nil, err
		}
		return &StatusResult{Status: store.BulkStatusCanceled, OperationID: op.ID}, nil
	default:
		return &StatusResult{Status: store.BulkStatusPending, OperationID: op.ID}, nil
	}
}

// Finalize downloads and persists the result of a completed bulk operation,
// then advances the watermark and settles the state machine. Runs in a
// worker or background goroutine, never in a request path.
func (o *Orchestrator) Finalize(ctx context.Context, task FinalizeTask) error {
	fail := func(err error) error {
		if stErr := o.state.SetBulkFailed(ctx, task.OperationID); stErr != nil {
			log.Printf("finalize: record failure for %s: %v", task.OperationID, stErr)
		}
		if o.notifier != nil {
			o.notifier.BulkSyncFailed(ctx, task.OperationID, err.Error())
		}
		return err
	}

	url := task.URL
	if url == "" {
		op, err := o.remote.PollOperation(ctx, task.OperationID)
		if err != nil {
			return fail(fmt.Errorf("poll before finalize: %w", err))
		}
		if op.Status != shopify.OpCompleted {
			return fail(fmt.Errorf("operation %s is %s, not completed", task.OperationID, op.Status))
		}
		url = op.URL
	}
	if url == "" {
		// Completed with no result file means zero matching orders.
		if err := o.state.SetLastSyncAt(ctx, o.nowFunc().UTC().Format(time.RFC3339)); err != nil {
			return fail(err)
		}
		if err := o.state.SetBulkIdle(ctx, task.OperationID, 0); err != nil {
			return fail(err)
		}
		return nil
	}

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, task.OperationID, url); err != nil {
			log.Printf("finalize: archive for %s skipped: %v", task.OperationID, err)
		}
	}

	orders, err := o.remote.DownloadAndParse(ctx, url)
	if err != nil {
		return fail(fmt.Errorf("download bulk result: %w", err))
	}

	if err := o.upsertChunked(ctx, orders); err != nil {
		return fail(err)
	}

	if err := o.state.SetLastSyncAt(ctx, o.nowFunc().UTC().Format(time.RFC3339)); err != nil {
		return fail(err)
	}
	if err := o.state.SetBulkIdle(ctx, task.OperationID, len(orders)); err != nil {
		return fail(err)
	}

	if o.notifier != nil {
		o.notifier.BulkSyncCompleted(ctx, task.OperationID, len(orders))
	}
	log.Printf("finalize: operation %s done, synced=%d", task.OperationID, len(orders))
	return nil
}

// RefreshOrder re-fetches one order from upstream, tracking the attempt in
// the order's sync bookkeeping. Serves POST /orders/{id}.
func (o *Orchestrator) RefreshOrder(ctx context.Context, id string) (*store.Order, error) {
	if err := o.orders.SetSyncStatus(ctx, id, store.SyncStatusPending, ""); err != nil {
		log.Printf("refresh: mark pending for %s: %v", id, err)
	}

	fetched, err := o.remote.FetchByID(ctx, id)
	if err != nil {
		if stErr := o.orders.SetSyncStatus(ctx, id, store.SyncStatusFailed, err.Error()); stErr != nil {
			log.Printf("refresh: mark failed for %s: %v", id, stErr)
		}
		return nil, fmt.Errorf("refresh order %s: %w", id, err)
	}
	if fetched == nil {
		if stErr := o.orders.SetSyncStatus(ctx, id, store.SyncStatusFailed, "order not found upstream"); stErr != nil {
			log.Printf("refresh: mark failed for %s: %v", id, stErr)
		}
		return nil, nil
	}

	fetched.SyncStatus = store.SyncStatusSuccess
	if _, err := o.orders.Upsert(ctx, *fetched); err != nil {
		return nil, err
	}
	return o.orders.GetByID(ctx, id)
}
