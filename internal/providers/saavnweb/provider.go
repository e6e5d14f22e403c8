package saavnweb

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"songstream/catalogservice/internal/domain"
)

const (
	defaultEndpoint  = "https://www.jiosaavn.com/search/song/{query}"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	maxResponseBytes = 8 * 1024 * 1024
)

var (
	// blobPattern captures the structured data blob the search page embeds in
	// a script tag.
	blobPattern = regexp.MustCompile(`(?s)window\.__INITIAL_DATA__\s*=\s*(\{.*?\})\s*;?\s*</script>`)

	// songAttrPattern captures per-element JSON payloads when no structured
	// blob is present.
	songAttrPattern = regexp.MustCompile(`data-song="([^"]+)"`)

	// songRowPattern is the last-resort class-name heuristic: a song row with
	// a titled permalink anchor.
	songRowPattern = regexp.MustCompile(`(?s)<(?:li|div)[^>]*class="[^"]*song[^"]*"[^>]*>.{0,400}?<a[^>]*href="([^"]+)"[^>]*title="([^"]+)"`)
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

// Provider scrapes the public search page. It prefers the embedded JSON blob
// and degrades to markup heuristics; every sub-step failure contributes an
// empty set instead of failing the call.
type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return "web"
}

func (p *Provider) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    p.Name(),
		Label:   "Web Search",
		Kind:    "scrape",
		Enabled: true,
	}
}

// Search fetches the search page once and walks the parse ladder. Page and
// limit are accepted for interface symmetry; the page markup is not paginated
// by the scraper, the aggregator truncates.
func (p *Provider) Search(ctx context.Context, query string, page, limit int) ([]domain.RawRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	target := strings.ReplaceAll(p.endpoint, "{query}", url.PathEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search page HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	markup := string(body)

	if records := parseEmbeddedBlob(markup); len(records) > 0 {
		return records, nil
	}
	return parseMarkupHeuristics(markup), nil
}

// parseEmbeddedBlob extracts the script-embedded data blob and tries the
// known sub-shapes: an entity map keyed by id, a flat results list, and the
// top-query list.
func parseEmbeddedBlob(page string) []domain.RawRecord {
	match := blobPattern.FindStringSubmatch(page)
	if match == nil {
		return nil
	}

	var blob map[string]any
	if err := json.Unmarshal([]byte(match[1]), &blob); err != nil {
		return nil
	}

	if entities, ok := blob["entities"].(map[string]any); ok {
		if records := entityMapRecords(entities); len(records) > 0 {
			return records
		}
	}
	if records := recordList(blob["results"]); len(records) > 0 {
		return records
	}
	if topQuery, ok := blob["topquery"].(map[string]any); ok {
		if records := recordList(topQuery["data"]); len(records) > 0 {
			return records
		}
	}
	if songs, ok := blob["songs"].(map[string]any); ok {
		if records := recordList(songs["data"]); len(records) > 0 {
			return records
		}
	}
	return nil
}

// entityMapRecords flattens an id-keyed entity map, carrying the key down as
// the record id when the entity lacks one.
func entityMapRecords(entities map[string]any) []domain.RawRecord {
	records := make([]domain.RawRecord, 0, len(entities))
	for id, entity := range entities {
		record, ok := entity.(map[string]any)
		if !ok {
			continue
		}
		if _, present := record["id"]; !present {
			record["id"] = id
		}
		records = append(records, domain.RawRecord(record))
	}
	return records
}

// parseMarkupHeuristics pattern-matches song rows when the page carries no
// parseable blob: per-element data-song JSON attributes first, then titled
// permalink anchors inside song-classed elements.
func parseMarkupHeuristics(page string) []domain.RawRecord {
	var records []domain.RawRecord

	for _, match := range songAttrPattern.FindAllStringSubmatch(page, -1) {
		raw := html.UnescapeString(match[1])
		var record map[string]any
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, domain.RawRecord(record))
	}
	if len(records) > 0 {
		return records
	}

	for _, match := range songRowPattern.FindAllStringSubmatch(page, -1) {
		title := strings.TrimSpace(html.UnescapeString(match[2]))
		if title == "" {
			continue
		}
		records = append(records, domain.RawRecord{
			"song":      title,
			"perma_url": strings.TrimSpace(match[1]),
		})
	}
	return records
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
