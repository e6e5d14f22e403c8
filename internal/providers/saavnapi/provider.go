package saavnapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"songstream/catalogservice/internal/domain"
)

const (
	defaultSearchEndpoint = "https://www.jiosaavn.com/api.php?__call=search.getResults&_format=json&_marker=0&cc=in&p={page}&n={limit}&q={query}"
	defaultSearchAlt      = "https://www.jiosaavn.com/api.php?__call=search.getResults&_format=json&_marker=0&cc=in&p={page}&n={limit}&__src=web&q={query}"
	defaultAutocomplete   = "https://www.jiosaavn.com/api.php?__call=autocomplete.get&_format=json&_marker=0&cc=in&includeMetaTags=1&query={query}"

	defaultSongEndpoint     = "https://www.jiosaavn.com/api.php?__call=song.getDetails&cc=in&_marker=0&_format=json&pids={id}"
	defaultAlbumEndpoint    = "https://www.jiosaavn.com/api.php?__call=content.getAlbumDetails&_format=json&cc=in&_marker=0&albumid={id}"
	defaultPlaylistEndpoint = "https://www.jiosaavn.com/api.php?__call=playlist.getDetails&_format=json&cc=in&_marker=0&listid={id}"
	defaultLyricsEndpoint   = "https://www.jiosaavn.com/api.php?__call=lyrics.getLyrics&ctx=web6dot0&api_version=4&_format=json&_marker=0&lyrics_id={id}"

	defaultUserAgent = "songstream-catalog/1.0"

	maxResponseBytes = 4 * 1024 * 1024

	// maxConcurrentVariants limits parallel search endpoint variants per call.
	maxConcurrentVariants = 3
)

// nestedQuoteFix rewrites nested double quotes the upstream emits inside
// string values, which would otherwise break JSON parsing:
// `(From "X")` becomes `(From 'X')`.
var nestedQuoteFix = regexp.MustCompile(`\(From "([^"]+)"\)`)

type Config struct {
	SearchEndpoints  []string
	SongEndpoint     string
	AlbumEndpoint    string
	PlaylistEndpoint string
	LyricsEndpoint   string
	UserAgent        string
	Client           *http.Client
}

// Provider talks to the structured catalog API. Search fans out over all
// configured endpoint variants concurrently and returns the first non-empty
// result set.
type Provider struct {
	client           *http.Client
	searchEndpoints  []string
	songEndpoint     string
	albumEndpoint    string
	playlistEndpoint string
	lyricsEndpoint   string
	userAgent        string
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoints := make([]string, 0, len(cfg.SearchEndpoints))
	for _, endpoint := range cfg.SearchEndpoints {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	if len(endpoints) == 0 {
		endpoints = []string{defaultSearchEndpoint, defaultSearchAlt, defaultAutocomplete}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Provider{
		client:           client,
		searchEndpoints:  endpoints,
		songEndpoint:     endpointOrDefault(cfg.SongEndpoint, defaultSongEndpoint),
		albumEndpoint:    endpointOrDefault(cfg.AlbumEndpoint, defaultAlbumEndpoint),
		playlistEndpoint: endpointOrDefault(cfg.PlaylistEndpoint, defaultPlaylistEndpoint),
		lyricsEndpoint:   endpointOrDefault(cfg.LyricsEndpoint, defaultLyricsEndpoint),
		userAgent:        userAgent,
	}
}

func endpointOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func (p *Provider) Name() string {
	return "api"
}

func (p *Provider) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    p.Name(),
		Label:   "Catalog API",
		Kind:    "api",
		Enabled: true,
	}
}

// Search queries every endpoint variant in parallel. The first variant that
// yields records wins and cancels the rest; variants are tried in order for
// error reporting so a total failure surfaces the first variant's error.
func (p *Provider) Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type variantResult struct {
		records []domain.RawRecord
		err     error
	}
	results := make([]variantResult, len(p.searchEndpoints))

	sem := semaphore.NewWeighted(maxConcurrentVariants)
	var wg sync.WaitGroup
	for i, endpoint := range p.searchEndpoints {
		wg.Add(1)
		go func(index int, template string) {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				results[index] = variantResult{err: err}
				return
			}
			defer sem.Release(1)

			records, err := p.searchVariant(runCtx, template, query, page, limit)
			results[index] = variantResult{records: records, err: err}
			if err == nil && len(records) > 0 {
				cancel()
			}
		}(i, endpoint)
	}
	wg.Wait()

	var firstErr error
	anySucceeded := false
	for _, result := range results {
		if result.err == nil && len(result.records) > 0 {
			return result.records, nil
		}
		if result.err == nil {
			anySucceeded = true
		} else if firstErr == nil {
			firstErr = result.err
		}
	}
	if anySucceeded {
		// At least one variant answered with zero records: no matches.
		return []domain.RawRecord{}, nil
	}
	return nil, firstErr
}

func (p *Provider) searchVariant(ctx context.Context, template, query string, page, limit int) ([]domain.RawRecord, error) {
	target := expandTemplate(template, map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
		"query": url.QueryEscape(query),
	})

	payload, err := p.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return parseSearchPayload(payload)
}

func (p *Provider) GetSong(ctx context.Context, id string) (domain.RawRecord, error) {
	target := expandTemplate(p.songEndpoint, map[string]string{"id": url.QueryEscape(id)})
	payload, err := p.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	var envelope map[string]any
	if err := json.Unmarshal(sanitizePayload(payload), &envelope); err != nil {
		return nil, fmt.Errorf("song payload: %w", err)
	}
	record, ok := envelope[id].(map[string]any)
	if !ok {
		return nil, nil
	}
	return domain.RawRecord(record), nil
}

func (p *Provider) GetAlbum(ctx context.Context, id string) (domain.RawRecord, error) {
	return p.fetchEntity(ctx, p.albumEndpoint, id, "album")
}

func (p *Provider) GetPlaylist(ctx context.Context, id string) (domain.RawRecord, error) {
	return p.fetchEntity(ctx, p.playlistEndpoint, id, "playlist")
}

// fetchEntity fetches a top-level JSON object keyed endpoint. An upstream
// error object or empty body maps to not-found.
func (p *Provider) fetchEntity(ctx context.Context, template, id, kind string) (domain.RawRecord, error) {
	target := expandTemplate(template, map[string]string{"id": url.QueryEscape(id)})
	payload, err := p.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(sanitizePayload(payload), &record); err != nil {
		return nil, fmt.Errorf("%s payload: %w", kind, err)
	}
	if len(record) == 0 {
		return nil, nil
	}
	if status, ok := record["error"].(map[string]any); ok && len(status) > 0 {
		return nil, nil
	}
	return domain.RawRecord(record), nil
}

func (p *Provider) GetLyrics(ctx context.Context, lyricsID string) (string, error) {
	target := expandTemplate(p.lyricsEndpoint, map[string]string{"id": url.QueryEscape(lyricsID)})
	payload, err := p.fetch(ctx, target)
	if err != nil {
		return "", err
	}

	var envelope struct {
		Lyrics string `json:"lyrics"`
	}
	if err := json.Unmarshal(sanitizePayload(payload), &envelope); err != nil {
		return "", fmt.Errorf("lyrics payload: %w", err)
	}
	return strings.TrimSpace(envelope.Lyrics), nil
}

func (p *Provider) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("catalog API HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// sanitizePayload applies the nested-quote repair before JSON decoding.
func sanitizePayload(payload []byte) []byte {
	return nestedQuoteFix.ReplaceAll(payload, []byte(`(From '$1')`))
}

// parseSearchPayload accepts the payload shapes the search variants return:
// a top-level results list, a songs list, or an autocomplete envelope with a
// songs.data list. Album entries contribute their nested songs.
func parseSearchPayload(payload []byte) ([]domain.RawRecord, error) {
	var envelope map[string]any
	if err := json.Unmarshal(sanitizePayload(payload), &envelope); err != nil {
		return nil, fmt.Errorf("search payload: %w", err)
	}

	if records := recordList(envelope["results"]); records != nil {
		return records, nil
	}
	if records := recordList(envelope["songs"]); records != nil {
		return records, nil
	}
	if songs, ok := envelope["songs"].(map[string]any); ok {
		if records := recordList(songs["data"]); records != nil {
			return records, nil
		}
	}
	if albums, ok := envelope["albums"].([]any); ok {
		var records []domain.RawRecord
		for _, entry := range albums {
			album, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			records = append(records, recordList(album["songs"])...)
		}
		if records != nil {
			return records, nil
		}
	}
	return []domain.RawRecord{}, nil
}

func recordList(value any) []domain.RawRecord {
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

// expandTemplate substitutes {name} placeholders. Values are already escaped
// by the caller where needed.
func expandTemplate(template string, values map[string]string) string {
	out := template
	for name, value := range values {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}
