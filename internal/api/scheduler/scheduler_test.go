package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"caskwatch/internal/model"
	"caskwatch/internal/pkg/queue"
	"caskwatch/internal/pkg/redisqueue"
	"caskwatch/internal/pricing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) (*redisqueue.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	client, err := redisqueue.NewClientWithRedis(rdb)
	if err != nil {
		t.Fatalf("new queue client: %v", err)
	}
	return client, mr
}

// fakeSiteStore checks due-ness in memory the same way the DB store does,
// and records the stamps the scheduler would have written.
type fakeSiteStore struct {
	mu    sync.Mutex
	sites []model.ExternalSite

	lastRunAt map[uint]time.Time
	nextRunAt map[uint]time.Time
}

func newFakeSiteStore(sites ...model.ExternalSite) *fakeSiteStore {
	return &fakeSiteStore{
		sites:     sites,
		lastRunAt: make(map[uint]time.Time),
		nextRunAt: make(map[uint]time.Time),
	}
}

func (f *fakeSiteStore) DispatchDue(ctx context.Context, now time.Time, dispatch func(ctx context.Context, site *model.ExternalSite) error) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dispatched := 0
	for i := range f.sites {
		site := &f.sites[i]
		if site.RunEvery == nil {
			continue
		}
		if next, ok := f.nextRunAt[site.ID]; ok && next.After(now) {
			continue
		}
		if site.NextRunAt != nil && site.NextRunAt.After(now) {
			continue
		}
		if err := dispatch(ctx, site); err != nil {
			return dispatched, err
		}
		f.lastRunAt[site.ID] = now
		f.nextRunAt[site.ID] = now.Add(time.Duration(*site.RunEvery) * time.Minute)
		dispatched++
	}
	return dispatched, nil
}

type fakeIngestor struct {
	mu      sync.Mutex
	batches []struct {
		storeID uint
		entries []redisqueue.PriceEntry
	}
}

func (f *fakeIngestor) IngestBatch(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, struct {
		storeID uint
		entries []redisqueue.PriceEntry
	}{storeID, entries})
	return &pricing.Result{Total: len(entries)}, nil
}

func intPtr(v int) *int { return &v }

func TestScanOnce_DispatchesDueSite(t *testing.T) {
	rq, _ := newTestQueue(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSiteStore(model.ExternalSite{
		ID:       1,
		Type:     "totalwines",
		StoreID:  7,
		RunEvery: intPtr(60),
	})

	s := &Scheduler{
		sites:      store,
		redisQueue: rq,
		logger:     testLogger(),
		clock:      func() time.Time { return now },
	}

	s.ScanOnce(context.Background())

	job, err := rq.PopJob(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("expected a queued job: %v", err)
	}
	if job.SiteID != 1 || job.SiteType != "totalwines" || job.StoreID != 7 {
		t.Errorf("unexpected job: %+v", job)
	}

	if got := store.lastRunAt[1]; !got.Equal(now) {
		t.Errorf("last_run_at = %v, want %v", got, now)
	}
	wantNext := now.Add(60 * time.Minute)
	if got := store.nextRunAt[1]; !got.Equal(wantNext) {
		t.Errorf("next_run_at = %v, want %v", got, wantNext)
	}
}

func TestScanOnce_SkipsSiteWithoutSchedule(t *testing.T) {
	rq, _ := newTestQueue(t)

	store := newFakeSiteStore(model.ExternalSite{
		ID:      2,
		Type:    "woodencork",
		StoreID: 8,
		// RunEvery nil: never scheduled
	})

	s := &Scheduler{
		sites:      store,
		redisQueue: rq,
		logger:     testLogger(),
		clock:      time.Now,
	}

	s.ScanOnce(context.Background())

	if _, err := rq.PopJob(context.Background(), 100*time.Millisecond); err == nil {
		t.Fatal("expected no job for unscheduled site")
	}
	if len(store.lastRunAt) != 0 {
		t.Errorf("unscheduled site should not be stamped, got %v", store.lastRunAt)
	}
}

func TestScanOnce_SkipsFutureSite(t *testing.T) {
	rq, _ := newTestQueue(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Minute)
	store := newFakeSiteStore(model.ExternalSite{
		ID:        3,
		Type:      "totalwines",
		StoreID:   7,
		RunEvery:  intPtr(60),
		NextRunAt: &future,
	})

	s := &Scheduler{
		sites:      store,
		redisQueue: rq,
		logger:     testLogger(),
		clock:      func() time.Time { return now },
	}

	s.ScanOnce(context.Background())

	if _, err := rq.PopJob(context.Background(), 100*time.Millisecond); err == nil {
		t.Fatal("expected no job for a site that is not yet due")
	}
}

func TestScanOnce_ToleratesDuplicateJob(t *testing.T) {
	rq, _ := newTestQueue(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	site := model.ExternalSite{
		ID:       4,
		Type:     "woodencork",
		StoreID:  9,
		RunEvery: intPtr(60),
	}
	store := newFakeSiteStore(site)

	// Pre-queue the same job so PushJob hits the pending-set dedup.
	if err := rq.PushJob(context.Background(), redisqueue.NewScrapeJob(site.ID, site.Type, site.StoreID, now.Unix())); err != nil {
		t.Fatalf("failed to pre-queue job: %v", err)
	}

	s := &Scheduler{
		sites:      store,
		redisQueue: rq,
		logger:     testLogger(),
		clock:      func() time.Time { return now },
	}

	s.ScanOnce(context.Background())

	// Dedup is not an error: the site must still be stamped.
	if got := store.lastRunAt[4]; !got.Equal(now) {
		t.Errorf("last_run_at = %v, want %v", got, now)
	}
}

func TestResultListener_IngestsSuccessfulResult(t *testing.T) {
	rq, _ := newTestQueue(t)

	ingestor := &fakeIngestor{}
	s := &Scheduler{
		redisQueue: rq,
		ingestor:   ingestor,
		pool:       queue.NewPool(testLogger(), 2, 16),
		logger:     testLogger(),
		clock:      time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.pool.Start(ctx)
	defer s.pool.Shutdown()

	err := rq.PushResult(ctx, &redisqueue.ScrapeResult{
		JobID:    "site-10",
		SiteID:   10,
		SiteType: "totalwines",
		StoreID:  7,
		Entries: []redisqueue.PriceEntry{
			{Name: "Ardbeg 10", Price: 5499, URL: "https://example.com/ardbeg-10"},
		},
		ScrapedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("failed to push result: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.StartResultListener(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		ingestor.mu.Lock()
		n := len(ingestor.batches)
		ingestor.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("result was never ingested")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("listener returned error on shutdown: %v", err)
	}

	ingestor.mu.Lock()
	defer ingestor.mu.Unlock()
	if ingestor.batches[0].storeID != 7 {
		t.Errorf("storeID = %d, want 7", ingestor.batches[0].storeID)
	}
	if ingestor.batches[0].entries[0].Name != "Ardbeg 10" {
		t.Errorf("entry name = %q", ingestor.batches[0].entries[0].Name)
	}
}

func TestHandleResult_FailedResultIsNotIngested(t *testing.T) {
	ingestor := &fakeIngestor{}
	s := &Scheduler{
		ingestor: ingestor,
		logger:   testLogger(),
	}

	err := s.handleResult(context.Background(), &redisqueue.ScrapeResult{
		JobID:        "site-11",
		SiteType:     "woodencork",
		StoreID:      8,
		ErrorMessage: "fetch failed: status 503",
	})
	if err != nil {
		t.Fatalf("failed result should be swallowed, got %v", err)
	}
	if len(ingestor.batches) != 0 {
		t.Errorf("failed result must not be ingested")
	}
}
