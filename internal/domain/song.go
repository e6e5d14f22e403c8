package domain

// RawRecord is an untyped field bag as returned by an upstream source before
// normalization. Keys and value types vary between the structured API and the
// web scrape path; only the normalizer reads it, with explicit per-field
// fallbacks.
type RawRecord map[string]any

// Song is the canonical, cleaned entity returned to callers.
type Song struct {
	ID          string   `json:"id"`
	Title       string   `json:"song"`
	Artists     []string `json:"artists"`
	Album       string   `json:"album"`
	Year        string   `json:"year"`
	Language    string   `json:"language"`
	DurationSec int      `json:"duration_sec"`
	PlayCount   int      `json:"play_count"`
	ImageURL    string   `json:"image"`
	MediaURL    string   `json:"media_url"`
	PermaURL    string   `json:"perma_url"`
	Copyright   string   `json:"copyright"`
	LyricsID    string   `json:"lyrics_id,omitempty"`
	Lyrics      string   `json:"lyrics,omitempty"`
}

type SearchRequest struct {
	Query         string
	Page          int
	Limit         int
	AllowFallback bool
	IncludeLyrics bool
	NoCache       bool
}

// SourceStatus reports the outcome of one upstream source for a single search.
// Callers use the per-source OK flags to tell "no matches" apart from
// "sources unreachable": an empty Songs list with zero OK sources means the
// upstream was not reachable at all.
type SourceStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type SearchResponse struct {
	Query      string         `json:"query"`
	Songs      []Song         `json:"songs"`
	Sources    []SourceStatus `json:"sources"`
	SourcesOK  int            `json:"sourcesOk"`
	ElapsedMS  int64          `json:"elapsedMs"`
	TotalItems int            `json:"totalItems"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
}

type SourceInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type Album struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Year     string `json:"year"`
	ImageURL string `json:"image"`
	PermaURL string `json:"perma_url"`
	Songs    []Song `json:"songs"`
}

type Playlist struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ImageURL  string `json:"image"`
	PermaURL  string `json:"perma_url"`
	SongCount int    `json:"song_count"`
	Songs     []Song `json:"songs"`
}

// SourceDiagnostics exposes the circuit-breaker view of one upstream source.
type SourceDiagnostics struct {
	Name                string `json:"name"`
	Label               string `json:"label"`
	Kind                string `json:"kind"`
	Enabled             bool   `json:"enabled"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Blocked             bool   `json:"blocked"`
	LastError           string `json:"lastError,omitempty"`
	LastLatencyMS       int64  `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64  `json:"totalRequests,omitempty"`
	TotalFailures       int64  `json:"totalFailures,omitempty"`
}
