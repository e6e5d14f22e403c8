package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"songstream/catalogservice/internal/domain"
)

func rawSong(id, title string) domain.RawRecord {
	return domain.RawRecord{
		"id":        id,
		"song":      title,
		"media_url": "https://cdn.example.com/" + id + "_160.mp4",
	}
}

type fakeSource struct {
	name  string
	kind  string
	items []domain.RawRecord
}

func (p *fakeSource) Name() string { return p.name }

func (p *fakeSource) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: p.name, Label: p.name, Kind: p.kind, Enabled: true}
}

func (p *fakeSource) Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error) {
	_ = ctx
	_ = query
	return append([]domain.RawRecord(nil), p.items...), nil
}

type countingSource struct {
	name  string
	items []domain.RawRecord
	hits  atomic.Int32
}

func (p *countingSource) Name() string { return p.name }

func (p *countingSource) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: p.name, Label: p.name, Kind: "test", Enabled: true}
}

func (p *countingSource) Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error) {
	p.hits.Add(1)
	return append([]domain.RawRecord(nil), p.items...), nil
}

type failingSource struct {
	name string
	err  error
}

func (p *failingSource) Name() string { return p.name }

func (p *failingSource) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: p.name, Label: p.name, Kind: "test", Enabled: true}
}

func (p *failingSource) Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error) {
	return nil, p.err
}

func manySongs(prefix string, n int) []domain.RawRecord {
	items := make([]domain.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, rawSong(prefix+strconv.Itoa(i), prefix+" song "+strconv.Itoa(i)))
	}
	return items
}

func TestSearchPrimaryOnly(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{
		rawSong("s1", "First"),
		rawSong("s2", "Second"),
	}}
	service := NewService(primary, nil, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "first"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(response.Songs))
	}
	if response.SourcesOK != 1 {
		t.Fatalf("expected 1 OK source, got %d", response.SourcesOK)
	}
	if response.Page != 1 || response.Limit != 20 {
		t.Fatalf("unexpected defaults: page=%d limit=%d", response.Page, response.Limit)
	}
}

func TestSearchFallbackInvokedBelowThreshold(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{rawSong("s1", "Only One")}}
	fallback := &countingSource{name: "web", items: []domain.RawRecord{rawSong("w1", "From Web")}}
	service := NewService(primary, nil, 2*time.Second, WithFallback(fallback))

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:         "sparse",
		AllowFallback: true,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := fallback.hits.Load(); got != 1 {
		t.Fatalf("expected 1 fallback call, got %d", got)
	}
	if len(response.Songs) != 2 {
		t.Fatalf("expected pooled songs from both sources, got %d", len(response.Songs))
	}
	if len(response.Sources) != 2 {
		t.Fatalf("expected 2 source statuses, got %d", len(response.Sources))
	}
}

func TestSearchFallbackSkippedAboveThreshold(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: manySongs("p", 15)}
	fallback := &countingSource{name: "web"}
	service := NewService(primary, nil, 2*time.Second, WithFallback(fallback))

	_, err := service.Search(context.Background(), domain.SearchRequest{
		Query:         "plenty",
		AllowFallback: true,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := fallback.hits.Load(); got != 0 {
		t.Fatalf("fallback should not run when primary yields enough, got %d calls", got)
	}
}

func TestSearchFallbackSkippedWhenDisallowed(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{rawSong("s1", "Lonely")}}
	fallback := &countingSource{name: "web"}
	service := NewService(primary, nil, 2*time.Second, WithFallback(fallback))

	_, err := service.Search(context.Background(), domain.SearchRequest{
		Query:         "sparse",
		AllowFallback: false,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := fallback.hits.Load(); got != 0 {
		t.Fatalf("fallback must stay idle when not allowed, got %d calls", got)
	}
}

func TestSearchPrimaryFailureDegrades(t *testing.T) {
	primary := &failingSource{name: "api", err: fmt.Errorf("upstream said no")}
	fallback := &fakeSource{name: "web", kind: "scrape", items: []domain.RawRecord{rawSong("w1", "Rescue")}}
	service := NewService(primary, nil, 2*time.Second, WithFallback(fallback))

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:         "degraded",
		AllowFallback: true,
	})
	if err != nil {
		t.Fatalf("a failing source must not fail the search: %v", err)
	}
	if len(response.Songs) != 1 || response.Songs[0].ID != "w1" {
		t.Fatalf("expected the fallback contribution, got %+v", response.Songs)
	}
	if response.SourcesOK != 1 {
		t.Fatalf("expected 1 OK source, got %d", response.SourcesOK)
	}
	var primaryStatus *domain.SourceStatus
	for i := range response.Sources {
		if response.Sources[i].Name == "api" {
			primaryStatus = &response.Sources[i]
		}
	}
	if primaryStatus == nil || primaryStatus.OK || primaryStatus.Error == "" {
		t.Fatalf("expected failed primary status, got %+v", response.Sources)
	}
}

func TestSearchValidation(t *testing.T) {
	service := NewService(&fakeSource{name: "api", kind: "api"}, nil, time.Second)

	if _, err := service.Search(context.Background(), domain.SearchRequest{Query: "   "}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if _, err := service.Search(context.Background(), domain.SearchRequest{Query: "q", Page: -2}); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}

func TestSearchLimitClamped(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: manySongs("p", 60)}
	service := NewService(primary, nil, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "q", Limit: 500})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if response.Limit != 50 {
		t.Fatalf("expected limit clamped to 50, got %d", response.Limit)
	}
	if len(response.Songs) != 50 {
		t.Fatalf("expected 50 songs after truncation, got %d", len(response.Songs))
	}
	if response.TotalItems != 60 {
		t.Fatalf("expected total 60 before truncation, got %d", response.TotalItems)
	}
}

func TestSearchDropsRecordsWithoutMedia(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{
		rawSong("s1", "Playable"),
		{"id": "s2", "song": "Silent"},
	}}
	service := NewService(primary, nil, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Songs) != 1 || response.Songs[0].ID != "s1" {
		t.Fatalf("songs without media must be dropped, got %+v", response.Songs)
	}
}

func TestSearchDedupesAcrossSources(t *testing.T) {
	shared := rawSong("s1", "Shared Song")
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{shared}}
	fallback := &fakeSource{name: "web", kind: "scrape", items: []domain.RawRecord{
		rawSong("s1", "Shared Song"),
		rawSong("w2", "Unique"),
	}}
	service := NewService(primary, nil, 2*time.Second, WithFallback(fallback))

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:         "shared",
		AllowFallback: true,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Songs) != 2 {
		t.Fatalf("expected 2 unique songs, got %d: %+v", len(response.Songs), response.Songs)
	}
	if response.Songs[0].ID != "s1" {
		t.Fatalf("first occurrence must win, got %+v", response.Songs[0])
	}
}

func TestSearchCacheCollapsesConcurrentCallers(t *testing.T) {
	primary := &countingSource{name: "api", items: []domain.RawRecord{rawSong("s1", "Cached")}}
	service := NewService(primary, nil, 2*time.Second)

	request := domain.SearchRequest{Query: "stampede"}

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Search(context.Background(), request); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := failures.Load(); got != 0 {
		t.Fatalf("expected no failures, got %d", got)
	}
	if got := primary.hits.Load(); got != 1 {
		t.Fatalf("expected a single upstream call, got %d", got)
	}
}

func TestSearchNoCacheBypasses(t *testing.T) {
	primary := &countingSource{name: "api", items: []domain.RawRecord{rawSong("s1", "Fresh")}}
	service := NewService(primary, nil, 2*time.Second)

	request := domain.SearchRequest{Query: "fresh"}
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("search error: %v", err)
	}
	request.NoCache = true
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := primary.hits.Load(); got != 2 {
		t.Fatalf("NoCache must bypass the cache, got %d calls", got)
	}
}

func TestSearchCachedResponseIsIsolated(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api", items: []domain.RawRecord{rawSong("s1", "Original")}}
	service := NewService(primary, nil, 2*time.Second)

	request := domain.SearchRequest{Query: "isolated"}
	first, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	first.Songs[0].Title = "MUTATED"

	second, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if second.Songs[0].Title != "Original" {
		t.Fatalf("cached entry was mutated through a caller's response: %q", second.Songs[0].Title)
	}
}

func TestClearCacheForcesRecompute(t *testing.T) {
	primary := &countingSource{name: "api", items: []domain.RawRecord{rawSong("s1", "Evicted")}}
	service := NewService(primary, nil, 2*time.Second)

	request := domain.SearchRequest{Query: "evict"}
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("search error: %v", err)
	}
	service.ClearCache(context.Background())
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := primary.hits.Load(); got != 2 {
		t.Fatalf("expected recompute after clear, got %d calls", got)
	}
}

func TestSearchNoSources(t *testing.T) {
	service := NewService(nil, nil, time.Second)
	_, err := service.Search(context.Background(), domain.SearchRequest{Query: "anything"})
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestSourcesListsPrimaryFirst(t *testing.T) {
	primary := &fakeSource{name: "api", kind: "api"}
	fallback := &fakeSource{name: "web", kind: "scrape"}
	service := NewService(primary, nil, time.Second, WithFallback(fallback))

	infos := service.Sources()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(infos))
	}
	if infos[0].Name != "api" || infos[1].Name != "web" {
		t.Fatalf("unexpected order: %+v", infos)
	}
}
