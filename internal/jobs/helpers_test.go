package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bulksend/internal/channel"
	"bulksend/internal/events"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Job{}, &JobItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return NewRepo(openTestDB(t))
}

func mustCreate(t *testing.T, repo *Repo, data string, recipients ...string) *Job {
	t.Helper()
	j, _, err := repo.CreateJob(context.Background(), CreateJobInput{
		UserID:     1,
		DeviceID:   "dev-1",
		Type:       TypeSendText,
		Data:       []byte(data),
		Recipients: recipients,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func mustGet(t *testing.T, repo *Repo, id string) *Job {
	t.Helper()
	j, err := repo.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return j
}

// claim moves a queued job to processing the way the worker does.
func claim(t *testing.T, repo *Repo, id string) *Job {
	t.Helper()
	ok, err := repo.TransitionStatus(context.Background(), id, []Status{StatusQueued}, StatusProcessing, nil)
	if err != nil || !ok {
		t.Fatalf("claim %s: ok=%v err=%v", id, ok, err)
	}
	return mustGet(t, repo, id)
}

func itemsByRecipient(t *testing.T, repo *Repo, jobID string) map[string]JobItem {
	t.Helper()
	list, err := repo.ListItems(context.Background(), jobID, "", 0, 500)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	out := make(map[string]JobItem, len(list))
	for _, it := range list {
		out[it.Recipient] = it
	}
	return out
}

func countItems(t *testing.T, repo *Repo, jobID string, st ItemStatus) int {
	t.Helper()
	list, err := repo.ListItems(context.Background(), jobID, st, 0, 500)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	return len(list)
}

// markSent records a sent item without touching progress, as a crash between
// the two writes would leave it.
func markSent(t *testing.T, repo *Repo, jobID, recipient string) {
	t.Helper()
	it, ok := itemsByRecipient(t, repo, jobID)[recipient]
	if !ok {
		t.Fatalf("no item for %s", recipient)
	}
	id := "pre-" + recipient
	if ok, err := repo.UpdateItemStatus(context.Background(), it.ID, ItemSent, &id, nil); err != nil || !ok {
		t.Fatalf("mark %s sent: ok=%v err=%v", recipient, ok, err)
	}
}

type fakeSender struct {
	mu       sync.Mutex
	availErr error
	failFor  map[string]error
	attempts []string
	seq      int
}

func (s *fakeSender) Available(ctx context.Context, deviceID string) error {
	return s.availErr
}

func (s *fakeSender) Send(ctx context.Context, deviceID, recipient string, msg channel.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, recipient)
	if err := s.failFor[recipient]; err != nil {
		return "", err
	}
	s.seq++
	return fmt.Sprintf("msg-%d", s.seq), nil
}

func (s *fakeSender) Attempts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	waited []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waited = append(r.waited, d)
	r.mu.Unlock()
	return ctx.Err()
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *countingWaker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

type harness struct {
	repo   *Repo
	sender *fakeSender
	sleeps *sleepRecorder
	pub    *fakePublisher
	disp   *Dispatcher
	worker *Worker
	ctl    *Controller
	waker  *countingWaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   newTestRepo(t),
		sender: &fakeSender{},
		sleeps: &sleepRecorder{},
		pub:    &fakePublisher{},
		waker:  &countingWaker{},
	}
	h.disp = NewDispatcher(h.repo, h.sender, NewDelayPolicy(DefaultDelay), h.pub, zerolog.Nop())
	h.disp.Sleep = h.sleeps.sleep
	h.worker = NewWorker("test", h.repo, h.disp, time.Hour, zerolog.Nop())
	h.ctl = NewController(h.repo, h.waker, h.pub, zerolog.Nop())
	return h
}

func assertProgressBound(t *testing.T, j *Job) {
	t.Helper()
	if j.Progress.Sent+j.Progress.Failed > j.Progress.Total {
		t.Fatalf("progress overflow: %+v", j.Progress)
	}
}
