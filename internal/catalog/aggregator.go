package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"songstream/catalogservice/internal/domain"
	"songstream/catalogservice/internal/metrics"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50

	// maxConcurrentLyrics caps lyrics lookups fanned out for one response.
	maxConcurrentLyrics = 4
)

type preparedSearch struct {
	query         string
	page          int
	limit         int
	allowFallback bool
}

// Search runs a catalog search through the cache. Identical concurrent
// requests collapse into a single upstream computation; the shared result is
// cloned per caller so one consumer mutating its response cannot corrupt the
// cache. Lyrics are attached per request, outside the shared entry.
func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	prepared, err := s.prepareSearch(request)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	startedAt := time.Now()

	var response domain.SearchResponse
	if s.cacheDisabled || request.NoCache {
		response, err = s.executeSearch(ctx, prepared)
	} else {
		cacheKey := searchCacheKey(prepared)
		response, err = s.searchCache.GetOrCompute(ctx, cacheKey, s.searchTTL, func() (domain.SearchResponse, error) {
			return s.computeSearch(cacheKey, prepared)
		})
		response = cloneSearchResponse(response)
	}
	if err != nil {
		return domain.SearchResponse{}, err
	}

	response.ElapsedMS = time.Since(startedAt).Milliseconds()
	if request.IncludeLyrics {
		s.attachLyrics(ctx, response.Songs)
	}
	return response, nil
}

// computeSearch is the shared computation behind a cache slot. It runs on a
// detached context so an abandoning caller does not cancel the work other
// waiters still need, and reads through Redis before going upstream.
func (s *Service) computeSearch(cacheKey string, prepared preparedSearch) (domain.SearchResponse, error) {
	runCtx, cancel := s.detachedContext()
	defer cancel()

	if s.redisCache != nil {
		cached, ok, err := s.redisCache.Get(runCtx, cacheKey)
		if err != nil {
			slog.Warn("redis cache read failed", slog.String("key", cacheKey), slog.String("error", err.Error()))
		} else if ok {
			return cached, nil
		}
	}

	response, err := s.executeSearch(runCtx, prepared)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if s.redisCache != nil {
		if err := s.redisCache.Set(runCtx, cacheKey, response, s.searchTTL); err != nil {
			slog.Warn("redis cache write failed", slog.String("key", cacheKey), slog.String("error", err.Error()))
		}
	}
	return response, nil
}

func (s *Service) prepareSearch(request domain.SearchRequest) (preparedSearch, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return preparedSearch{}, ErrInvalidQuery
	}

	page := request.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return preparedSearch{}, ErrInvalidPage
	}

	limit := request.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	return preparedSearch{
		query:         query,
		page:          page,
		limit:         limit,
		allowFallback: request.AllowFallback,
	}, nil
}

// executeSearch queries the primary source, falls back to the scrape source
// when the primary yields too few records, and normalizes the pooled records
// into the response page.
func (s *Service) executeSearch(ctx context.Context, prepared preparedSearch) (domain.SearchResponse, error) {
	if s.primary == nil && s.fallback == nil {
		return domain.SearchResponse{}, ErrNoSources
	}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	statuses := make([]domain.SourceStatus, 0, 2)
	records := make([]domain.RawRecord, 0, prepared.limit)

	primaryCount := 0
	if s.primary != nil {
		items, status := s.fetchSource(runCtx, s.primary, prepared)
		statuses = append(statuses, status)
		records = append(records, items...)
		primaryCount = len(items)
	}

	if s.fallback != nil && prepared.allowFallback && primaryCount < s.fallbackThreshold {
		items, status := s.fetchSource(runCtx, s.fallback, prepared)
		statuses = append(statuses, status)
		records = append(records, items...)
	}

	songs := buildSongs(records)
	total := len(songs)
	if len(songs) > prepared.limit {
		songs = songs[:prepared.limit]
	}

	sourcesOK := 0
	for _, status := range statuses {
		if status.OK {
			sourcesOK++
		}
	}

	slog.Info("search completed",
		slog.String("query", prepared.query),
		slog.Int("page", prepared.page),
		slog.Int("songs", len(songs)),
		slog.Int("sourcesOk", sourcesOK),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)

	return domain.SearchResponse{
		Query:      prepared.query,
		Songs:      songs,
		Sources:    statuses,
		SourcesOK:  sourcesOK,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
		TotalItems: total,
		Page:       prepared.page,
		Limit:      prepared.limit,
	}, nil
}

// fetchSource runs one source through the circuit breaker, the per-source
// rate limiter and the retry policy. A failing source degrades to an error
// status instead of failing the whole search.
func (s *Service) fetchSource(ctx context.Context, source Provider, prepared preparedSearch) ([]domain.RawRecord, domain.SourceStatus) {
	name := strings.ToLower(strings.TrimSpace(source.Name()))
	statusName := strings.ToLower(strings.TrimSpace(source.Info().Name))
	if statusName == "" {
		statusName = name
	}
	status := domain.SourceStatus{Name: statusName}

	if blocked, lastErr := s.isSourceBlocked(name, time.Now()); blocked {
		status.Error = fmt.Sprintf("source temporarily unhealthy: %s", lastErr)
		return nil, status
	}
	if err := s.waitSourceRateLimit(ctx, name); err != nil {
		status.Error = "rate limit wait cancelled"
		return nil, status
	}

	sourceStartedAt := time.Now()
	var items []domain.RawRecord
	searchErr := retryWithBackoff(ctx, defaultRetryConfig(), func() error {
		var err error
		items, err = source.Search(ctx, prepared.query, prepared.page, prepared.limit)
		return err
	})
	elapsed := time.Since(sourceStartedAt)
	s.recordSourceResult(name, searchErr, elapsed, time.Now())

	if searchErr != nil {
		slog.Warn("source search failed",
			slog.String("source", name),
			slog.String("query", prepared.query),
			slog.Int64("elapsedMs", elapsed.Milliseconds()),
			slog.String("error", searchErr.Error()),
		)
		status.Error = searchErr.Error()
		return nil, status
	}

	status.OK = true
	status.Count = len(items)
	return items, status
}

// buildSongs turns pooled raw records into the final song list: dedupe first
// so the earliest occurrence wins, then normalize, then drop everything
// without playable audio.
func buildSongs(records []domain.RawRecord) []domain.Song {
	deduped := DedupeRecords(records)
	songs := make([]domain.Song, 0, len(deduped))
	for _, record := range deduped {
		song := NormalizeRecord(record)
		if song == nil {
			metrics.RecordsDroppedTotal.WithLabelValues("unusable").Inc()
			continue
		}
		if song.MediaURL == "" {
			metrics.RecordsDroppedTotal.WithLabelValues("no_media").Inc()
			continue
		}
		songs = append(songs, *song)
	}
	return songs
}

// attachLyrics fills Lyrics on songs that carry a lyrics id. Failures leave
// the song untouched; lyrics are best effort.
func (s *Service) attachLyrics(ctx context.Context, songs []domain.Song) {
	if s.details == nil {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentLyrics)
	var wg sync.WaitGroup
	for i := range songs {
		if songs[i].LyricsID == "" {
			continue
		}
		wg.Add(1)
		go func(song *domain.Song) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			if lyrics, err := s.GetLyrics(ctx, song.LyricsID); err == nil {
				song.Lyrics = lyrics
			}
		}(&songs[i])
	}
	wg.Wait()
}

func searchCacheKey(prepared preparedSearch) string {
	return "search:q=" + strings.ToLower(prepared.query) +
		"|p=" + strconv.Itoa(prepared.page) +
		"|l=" + strconv.Itoa(prepared.limit) +
		"|fb=" + strconv.FormatBool(prepared.allowFallback)
}

func cloneSearchResponse(response domain.SearchResponse) domain.SearchResponse {
	clone := response
	clone.Songs = make([]domain.Song, len(response.Songs))
	copy(clone.Songs, response.Songs)
	clone.Sources = make([]domain.SourceStatus, len(response.Sources))
	copy(clone.Sources, response.Sources)
	for i := range clone.Songs {
		artists := make([]string, len(clone.Songs[i].Artists))
		copy(artists, clone.Songs[i].Artists)
		clone.Songs[i].Artists = artists
	}
	return clone
}
