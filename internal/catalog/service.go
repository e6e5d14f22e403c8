package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"songstream/catalogservice/internal/domain"
)

var (
	ErrInvalidQuery = errors.New("query is required")
	ErrInvalidPage  = errors.New("page must be >= 1")
	ErrNoSources    = errors.New("no catalog sources configured")
	ErrNotFound     = errors.New("not found")
)

// Provider fetches raw records for a query from one upstream source.
type Provider interface {
	Name() string
	Info() domain.SourceInfo
	Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error)
}

// DetailClient covers the by-id operations only the structured API offers.
// A nil record with a nil error means the upstream knows no such entity.
type DetailClient interface {
	GetSong(ctx context.Context, id string) (domain.RawRecord, error)
	GetLyrics(ctx context.Context, lyricsID string) (string, error)
	GetAlbum(ctx context.Context, id string) (domain.RawRecord, error)
	GetPlaylist(ctx context.Context, id string) (domain.RawRecord, error)
}

const (
	defaultSearchTTL         = 10 * time.Minute
	defaultDetailTTL         = 30 * time.Minute
	defaultFallbackThreshold = 10
)

type Service struct {
	primary           Provider
	details           DetailClient
	fallback          Provider
	timeout           time.Duration
	cacheDisabled     bool
	fallbackThreshold int
	searchTTL         time.Duration
	detailTTL         time.Duration

	searchCache   *Cache[domain.SearchResponse]
	songCache     *Cache[domain.Song]
	albumCache    *Cache[domain.Album]
	playlistCache *Cache[domain.Playlist]
	lyricsCache   *Cache[string]
	redisCache    *RedisCacheBackend

	healthMu sync.Mutex
	health   map[string]*sourceHealth
}

type ServiceOption func(*Service)

func WithFallback(provider Provider) ServiceOption {
	return func(s *Service) {
		s.fallback = provider
	}
}

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithSearchTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.searchTTL = ttl
		}
	}
}

func WithDetailTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.detailTTL = ttl
		}
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func WithFallbackThreshold(threshold int) ServiceOption {
	return func(s *Service) {
		if threshold > 0 {
			s.fallbackThreshold = threshold
		}
	}
}

func NewService(primary Provider, details DetailClient, timeout time.Duration, opts ...ServiceOption) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	svc := &Service{
		primary:           primary,
		details:           details,
		timeout:           timeout,
		fallbackThreshold: defaultFallbackThreshold,
		searchTTL:         defaultSearchTTL,
		detailTTL:         defaultDetailTTL,
		searchCache:       NewCache[domain.SearchResponse](0),
		songCache:         NewCache[domain.Song](0),
		albumCache:        NewCache[domain.Album](0),
		playlistCache:     NewCache[domain.Playlist](0),
		lyricsCache:       NewCache[string](0),
		health:            make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Sources lists the configured upstream sources, primary first.
func (s *Service) Sources() []domain.SourceInfo {
	items := make([]domain.SourceInfo, 0, 2)
	if s.primary != nil {
		items = append(items, s.primary.Info())
	}
	if s.fallback != nil {
		items = append(items, s.fallback.Info())
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Kind == "api" && items[j].Kind != "api"
	})
	return items
}

// GetSong looks a single song up by id. Songs whose media URL cannot be
// resolved are treated the same as absent ones: the catalog never hands out
// entries without playable audio, on any call path.
func (s *Service) GetSong(ctx context.Context, id string, includeLyrics bool) (domain.Song, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Song{}, fmt.Errorf("song id: %w", ErrInvalidQuery)
	}
	if s.details == nil {
		return domain.Song{}, ErrNoSources
	}

	compute := func() (domain.Song, error) {
		runCtx, cancel := s.detachedContext()
		defer cancel()

		started := time.Now()
		raw, err := s.details.GetSong(runCtx, id)
		if s.primary != nil {
			s.recordSourceResult(s.primary.Name(), err, time.Since(started), time.Now())
		}
		if err != nil {
			return domain.Song{}, fmt.Errorf("song %s: %w", id, err)
		}
		if raw == nil {
			return domain.Song{}, fmt.Errorf("song %s: %w", id, ErrNotFound)
		}
		song := NormalizeRecord(raw)
		if song == nil || song.MediaURL == "" {
			return domain.Song{}, fmt.Errorf("song %s: %w", id, ErrNotFound)
		}
		return *song, nil
	}

	var song domain.Song
	var err error
	if s.cacheDisabled {
		song, err = compute()
	} else {
		song, err = s.songCache.GetOrCompute(ctx, "song:"+id, s.detailTTL, compute)
	}
	if err != nil {
		return domain.Song{}, err
	}
	if includeLyrics && song.LyricsID != "" {
		if lyrics, lyricsErr := s.GetLyrics(ctx, song.LyricsID); lyricsErr == nil {
			song.Lyrics = lyrics
		}
	}
	return song, nil
}

// GetLyrics fetches lyrics by lyrics id. An empty string is a valid result.
func (s *Service) GetLyrics(ctx context.Context, lyricsID string) (string, error) {
	lyricsID = strings.TrimSpace(lyricsID)
	if lyricsID == "" {
		return "", fmt.Errorf("lyrics id: %w", ErrInvalidQuery)
	}
	if s.details == nil {
		return "", ErrNoSources
	}

	compute := func() (string, error) {
		runCtx, cancel := s.detachedContext()
		defer cancel()
		return s.details.GetLyrics(runCtx, lyricsID)
	}
	if s.cacheDisabled {
		return compute()
	}
	return s.lyricsCache.GetOrCompute(ctx, "lyrics:"+lyricsID, s.detailTTL, compute)
}

func (s *Service) GetAlbum(ctx context.Context, id string) (domain.Album, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Album{}, fmt.Errorf("album id: %w", ErrInvalidQuery)
	}
	if s.details == nil {
		return domain.Album{}, ErrNoSources
	}

	compute := func() (domain.Album, error) {
		runCtx, cancel := s.detachedContext()
		defer cancel()

		raw, err := s.details.GetAlbum(runCtx, id)
		if err != nil {
			return domain.Album{}, fmt.Errorf("album %s: %w", id, err)
		}
		if raw == nil {
			return domain.Album{}, fmt.Errorf("album %s: %w", id, ErrNotFound)
		}
		return normalizeAlbum(id, raw), nil
	}
	if s.cacheDisabled {
		return compute()
	}
	return s.albumCache.GetOrCompute(ctx, "album:"+id, s.detailTTL, compute)
}

func (s *Service) GetPlaylist(ctx context.Context, id string) (domain.Playlist, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Playlist{}, fmt.Errorf("playlist id: %w", ErrInvalidQuery)
	}
	if s.details == nil {
		return domain.Playlist{}, ErrNoSources
	}

	compute := func() (domain.Playlist, error) {
		runCtx, cancel := s.detachedContext()
		defer cancel()

		raw, err := s.details.GetPlaylist(runCtx, id)
		if err != nil {
			return domain.Playlist{}, fmt.Errorf("playlist %s: %w", id, err)
		}
		if raw == nil {
			return domain.Playlist{}, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
		}
		return normalizePlaylist(id, raw), nil
	}
	if s.cacheDisabled {
		return compute()
	}
	return s.playlistCache.GetOrCompute(ctx, "playlist:"+id, s.detailTTL, compute)
}

// ClearCache invalidates every cached value. Each cache clears atomically;
// readers see either the old population or an empty cache.
func (s *Service) ClearCache(ctx context.Context) {
	s.searchCache.Clear()
	s.songCache.Clear()
	s.albumCache.Clear()
	s.playlistCache.Clear()
	s.lyricsCache.Clear()
	if s.redisCache != nil {
		_ = s.redisCache.ClearAll(ctx)
	}
}

// detachedContext bounds a shared computation by the service timeout without
// tying it to any single caller's lifetime.
func (s *Service) detachedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout+2*time.Second)
}

func normalizeAlbum(id string, raw domain.RawRecord) domain.Album {
	return domain.Album{
		ID:       firstNonEmpty(strings.TrimSpace(stringField(raw, "albumid", "id")), id),
		Title:    CleanText(stringField(raw, "title", "name")),
		Year:     stringField(raw, "year"),
		ImageURL: upgradeImageURL(stringField(raw, "image")),
		PermaURL: strings.TrimSpace(stringField(raw, "perma_url")),
		Songs:    buildSongs(rawSongList(raw["songs"])),
	}
}

func normalizePlaylist(id string, raw domain.RawRecord) domain.Playlist {
	songs := buildSongs(rawSongList(raw["songs"]))
	return domain.Playlist{
		ID:        firstNonEmpty(strings.TrimSpace(stringField(raw, "listid", "id")), id),
		Title:     CleanText(stringField(raw, "listname", "title")),
		ImageURL:  upgradeImageURL(stringField(raw, "image")),
		PermaURL:  strings.TrimSpace(stringField(raw, "perma_url")),
		SongCount: len(songs),
		Songs:     songs,
	}
}

func rawSongList(value any) []domain.RawRecord {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	records := make([]domain.RawRecord, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]any); ok {
			records = append(records, domain.RawRecord(record))
		}
	}
	return records
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
