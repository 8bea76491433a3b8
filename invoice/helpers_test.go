package invoice_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/invoice"
	"github.com/warp/invoice-engine/invoice/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testNow is 1 December 2024, the day November gets billed.
var testNow = time.Date(2024, time.December, 1, 10, 0, 0, 0, time.UTC)

func testConfig() invoice.Config {
	cfg := invoice.DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return cfg
}

type fixture struct {
	svc    *invoice.Service
	mem    *store.Memory
	events *recordingDispatcher
}

func newFixture(t *testing.T, opts ...func(*invoice.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, o := range opts {
		o(&cfg)
	}
	mem := store.NewMemory()
	events := &recordingDispatcher{}
	return &fixture{
		svc:    invoice.NewService(mem, mem, mem.Customers(), events, cfg, nil),
		mem:    mem,
		events: events,
	}
}

func (f *fixture) customer(t *testing.T, c invoice.Customer) {
	t.Helper()
	if c.WorkspaceID == "" {
		c.WorkspaceID = "W1"
	}
	require.NoError(t, f.mem.PutCustomer(context.Background(), c))
}

func (f *fixture) lesson(t *testing.T, ws invoice.WorkspaceID, l invoice.BillableLesson) {
	t.Helper()
	require.NoError(t, f.mem.PutLesson(context.Background(), ws, l))
}

// hourLesson is a one-hour lesson starting at start.
func hourLesson(id string, customer invoice.CustomerID, start time.Time) invoice.BillableLesson {
	return invoice.BillableLesson{
		ID:         invoice.LessonID(id),
		CustomerID: customer,
		Title:      "Piano",
		Start:      start,
		End:        start.Add(time.Hour),
	}
}

func novDay(day, hour int) time.Time {
	return time.Date(2024, time.November, day, hour, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// recordingDispatcher keeps every published event.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []invoice.Event
	err    error
}

func (r *recordingDispatcher) Publish(_ context.Context, e invoice.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingDispatcher) types() []invoice.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]invoice.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// failingMarks rejects MarkInvoiced.
type failingMarks struct {
	*store.Memory
	err error
}

func (f failingMarks) MarkInvoiced(context.Context, []invoice.LessonID) error { return f.err }

// failingCreates rejects every insert and counts MarkInvoiced calls.
type failingCreates struct {
	*store.Memory
	err   error
	marks *atomic.Int32
}

func (f failingCreates) Create(context.Context, invoice.Invoice) (invoice.InvoiceID, error) {
	return "", f.err
}

func (f failingCreates) MarkInvoiced(ctx context.Context, ids []invoice.LessonID) error {
	f.marks.Add(1)
	return f.Memory.MarkInvoiced(ctx, ids)
}

// rendezvousLessons holds each ListUnbilled caller until every expected run
// has listed, so all runs see the same unbilled lessons.
type rendezvousLessons struct {
	*store.Memory
	listed *sync.WaitGroup
}

func (r rendezvousLessons) ListUnbilled(ctx context.Context, ws invoice.WorkspaceID, from, to time.Time) ([]invoice.BillableLesson, error) {
	lessons, err := r.Memory.ListUnbilled(ctx, ws, from, to)
	r.listed.Done()
	r.listed.Wait()
	return lessons, err
}

// losingPatches loses every compare-and-set.
type losingPatches struct {
	*store.Memory
}

func (losingPatches) Patch(context.Context, invoice.InvoiceID, invoice.Patch) error {
	return invoice.ErrConcurrentModification
}
