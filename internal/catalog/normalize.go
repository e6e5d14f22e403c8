package catalog

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"songstream/catalogservice/internal/domain"
)

// entityReplacer covers the fixed set of HTML entities the upstream catalog
// leaks into display strings. Replacement is idempotent: none of the outputs
// contain an input pattern.
var entityReplacer = strings.NewReplacer(
	"&quot;", `"`,
	"&amp;", "&",
	"&#039;", "'",
	"&copy;", "©",
	"&#169;", "©",
)

// NormalizeRecord maps a raw record from either source into the canonical
// Song. It returns nil only for wholly unusable records: no usable title and
// no usable id. Missing or mistyped fields never panic; they fall through the
// per-field fallback chains.
func NormalizeRecord(raw domain.RawRecord) *domain.Song {
	if raw == nil {
		return nil
	}

	title := CleanText(stringField(raw, "song", "title"))
	id := strings.TrimSpace(stringField(raw, "id"))
	permaURL := strings.TrimSpace(stringField(raw, "perma_url", "url"))
	if id == "" {
		id = deriveID(permaURL, title)
	}
	if title == "" && id == "" {
		return nil
	}

	song := &domain.Song{
		ID:          id,
		Title:       title,
		Artists:     extractArtists(raw),
		Album:       CleanText(stringField(raw, "album")),
		Year:        stringField(raw, "year"),
		Language:    stringField(raw, "language"),
		DurationSec: ParseDurationSeconds(stringField(raw, "duration")),
		PlayCount:   coerceInt(raw["play_count"]),
		ImageURL:    upgradeImageURL(stringField(raw, "image")),
		PermaURL:    permaURL,
		Copyright:   CleanText(stringField(raw, "copyright_text", "copyright")),
		MediaURL: ResolveMediaURL(
			stringField(raw, "media_url"),
			stringField(raw, "encrypted_media_url"),
			stringField(raw, "media_preview_url"),
			stringField(raw, "320kbps"),
		),
	}

	// Upstream quirk, preserved: the has-lyrics flag must be the literal
	// string "true", not any truthy value.
	if stringField(raw, "has_lyrics") == "true" {
		song.LyricsID = strings.TrimSpace(stringField(raw, "lyrics_id"))
	}

	return song
}

// CleanText decodes the source's text escaping and repairs mojibake. Applying
// it to already-clean text is a no-op.
func CleanText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = entityReplacer.Replace(value)
	return repairEncoding(value)
}

// repairEncoding undoes the common double-encoding artifact where UTF-8 bytes
// were decoded as Windows-1252 ("©" arriving as "Â©"). The repaired form is
// used only when re-encoding yields valid UTF-8 without further artifacts, so
// repairing already-clean text changes nothing.
func repairEncoding(value string) string {
	if !looksMojibake(value) {
		return value
	}
	repaired, err := charmap.Windows1252.NewEncoder().String(value)
	if err != nil {
		return value
	}
	if !utf8.ValidString(repaired) || looksMojibake(repaired) {
		return value
	}
	return repaired
}

func looksMojibake(value string) bool {
	for _, r := range value {
		if r == 'Ã' || r == 'Â' || (r >= 0x0080 && r <= 0x009f) {
			return true
		}
	}
	return false
}

// extractArtists applies the artist precedence chain: an explicit artist
// list, then comma-split primary_artists, then comma-split singers. The first
// non-empty source wins; entries are trimmed, cleaned and deduplicated with
// first-seen order preserved. Never returns nil.
func extractArtists(raw domain.RawRecord) []string {
	names := explicitArtistList(raw["artists"])
	if len(names) == 0 {
		names = splitArtistField(stringField(raw, "primary_artists"))
	}
	if len(names) == 0 {
		names = splitArtistField(stringField(raw, "singers"))
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		cleaned := CleanText(name)
		if cleaned == "" {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

func explicitArtistList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func splitArtistField(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// ParseDurationSeconds accepts "H:MM:SS", "MM:SS" or a bare integer string.
// Anything else coerces to 0.
func ParseDurationSeconds(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		total := 0
		switch len(parts) {
		case 2, 3:
			for _, part := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil || n < 0 {
					return 0
				}
				total = total*60 + n
			}
			return total
		default:
			return 0
		}
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func coerceInt(value any) int {
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0
		}
		return v
	case float64:
		if v < 0 {
			return 0
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

// upgradeImageURL requests the highest known artwork resolution when a
// lower-resolution variant is detected.
func upgradeImageURL(imageURL string) string {
	imageURL = strings.TrimSpace(imageURL)
	imageURL = strings.Replace(imageURL, "150x150", "500x500", 1)
	return strings.Replace(imageURL, "50x50", "500x500", 1)
}

// deriveID falls back to the last path segment of the permalink, then to a
// content hash of the title. The hash form exists only to keep emitted ids
// non-empty; it identifies nothing outside this process.
func deriveID(permaURL, title string) string {
	if permaURL != "" {
		trimmed := strings.TrimRight(permaURL, "/")
		if q := strings.IndexByte(trimmed, '?'); q >= 0 {
			trimmed = trimmed[:q]
		}
		if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 && idx < len(trimmed)-1 {
			return trimmed[idx+1:]
		}
	}
	if title == "" {
		return ""
	}
	sum := sha1.Sum([]byte(title))
	return hex.EncodeToString(sum[:])[:12]
}

// stringField returns the first present key whose value is (or trivially
// converts to) a non-empty string.
func stringField(raw domain.RawRecord, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}
