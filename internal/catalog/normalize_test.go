package catalog

import (
	"reflect"
	"testing"

	"songstream/catalogservice/internal/domain"
)

func TestNormalizeRecordBasic(t *testing.T) {
	song := NormalizeRecord(domain.RawRecord{
		"id":              "abc123",
		"song":            "Test &amp; Title",
		"album":           "Album &quot;X&quot;",
		"year":            "2020",
		"language":        "hindi",
		"duration":        "3:45",
		"play_count":      "12345",
		"image":           "https://img.example.com/150x150/cover.jpg",
		"media_url":       "https://cdn.example.com/track_160.mp4",
		"perma_url":       "https://example.com/song/test-title/xyz",
		"copyright_text":  "&copy; 2020 Label",
		"primary_artists": "Artist One, Artist Two",
		"has_lyrics":      "true",
		"lyrics_id":       "ly9",
	})
	if song == nil {
		t.Fatal("expected a song")
	}
	if song.Title != `Test & Title` {
		t.Fatalf("unexpected title: %q", song.Title)
	}
	if song.Album != `Album "X"` {
		t.Fatalf("unexpected album: %q", song.Album)
	}
	if song.DurationSec != 225 {
		t.Fatalf("unexpected duration: %d", song.DurationSec)
	}
	if song.PlayCount != 12345 {
		t.Fatalf("unexpected play count: %d", song.PlayCount)
	}
	if song.ImageURL != "https://img.example.com/500x500/cover.jpg" {
		t.Fatalf("unexpected image: %q", song.ImageURL)
	}
	if song.Copyright != "© 2020 Label" {
		t.Fatalf("unexpected copyright: %q", song.Copyright)
	}
	if !reflect.DeepEqual(song.Artists, []string{"Artist One", "Artist Two"}) {
		t.Fatalf("unexpected artists: %v", song.Artists)
	}
	if song.LyricsID != "ly9" {
		t.Fatalf("unexpected lyrics id: %q", song.LyricsID)
	}
}

func TestNormalizeRecordUnusable(t *testing.T) {
	if song := NormalizeRecord(nil); song != nil {
		t.Fatalf("nil record must normalize to nil, got %+v", song)
	}
	if song := NormalizeRecord(domain.RawRecord{"year": "2020"}); song != nil {
		t.Fatalf("record with no title and no id must normalize to nil, got %+v", song)
	}
}

func TestNormalizeRecordLyricsFlagMustBeLiteralTrue(t *testing.T) {
	for _, flag := range []any{"True", "1", "yes", ""} {
		song := NormalizeRecord(domain.RawRecord{
			"id":         "s1",
			"song":       "T",
			"has_lyrics": flag,
			"lyrics_id":  "ly1",
		})
		if song.LyricsID != "" {
			t.Fatalf("flag %v must not expose lyrics id", flag)
		}
	}
}

func TestNormalizeRecordDerivesIDFromPermalink(t *testing.T) {
	song := NormalizeRecord(domain.RawRecord{
		"song":      "Named Only",
		"perma_url": "https://example.com/song/named-only/XyZ123?autoplay=1",
	})
	if song == nil {
		t.Fatal("expected a song")
	}
	if song.ID != "XyZ123" {
		t.Fatalf("expected permalink segment id, got %q", song.ID)
	}
}

func TestNormalizeRecordHashIDFallback(t *testing.T) {
	first := NormalizeRecord(domain.RawRecord{"song": "Same Title"})
	second := NormalizeRecord(domain.RawRecord{"song": "Same Title"})
	if first == nil || second == nil {
		t.Fatal("expected songs")
	}
	if first.ID == "" || len(first.ID) != 12 {
		t.Fatalf("expected 12-char hash id, got %q", first.ID)
	}
	if first.ID != second.ID {
		t.Fatalf("hash id must be deterministic: %q vs %q", first.ID, second.ID)
	}
}

func TestExtractArtistsPrecedence(t *testing.T) {
	cases := []struct {
		name string
		raw  domain.RawRecord
		want []string
	}{
		{
			name: "explicit list wins",
			raw: domain.RawRecord{
				"artists":         []any{"One", map[string]any{"name": "Two"}},
				"primary_artists": "Ignored",
				"singers":         "Also Ignored",
			},
			want: []string{"One", "Two"},
		},
		{
			name: "primary artists before singers",
			raw: domain.RawRecord{
				"primary_artists": "A, B",
				"singers":         "C",
			},
			want: []string{"A", "B"},
		},
		{
			name: "singers as last resort",
			raw:  domain.RawRecord{"singers": "C, D"},
			want: []string{"C", "D"},
		},
		{
			name: "dedupe preserves first-seen order",
			raw:  domain.RawRecord{"primary_artists": "A, B, A,  B , C"},
			want: []string{"A", "B", "C"},
		},
		{
			name: "empty everywhere",
			raw:  domain.RawRecord{},
			want: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractArtists(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseDurationSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"3:45", 225},
		{"1:02:03", 3723},
		{"0:30", 30},
		{"90", 90},
		{"", 0},
		{"abc", 0},
		{"-5", 0},
		{"1:2:3:4", 0},
		{"3:xx", 0},
	}
	for _, tc := range cases {
		if got := ParseDurationSeconds(tc.in); got != tc.want {
			t.Errorf("ParseDurationSeconds(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCleanTextIdempotent(t *testing.T) {
	in := "  Song &amp; Title &#039;quoted&#039; "
	once := CleanText(in)
	twice := CleanText(once)
	if once != twice {
		t.Fatalf("cleaning must be idempotent: %q vs %q", once, twice)
	}
	if once != "Song & Title 'quoted'" {
		t.Fatalf("unexpected cleaned text: %q", once)
	}
}

func TestCleanTextRepairsMojibake(t *testing.T) {
	if got := CleanText("Â© 2020"); got != "© 2020" {
		t.Fatalf("expected mojibake repair, got %q", got)
	}
	// Already-clean text with non-ASCII stays untouched.
	if got := CleanText("© 2020 Müller"); got != "© 2020 Müller" {
		t.Fatalf("clean text must pass through, got %q", got)
	}
}

func TestUpgradeImageURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://i/150x150/a.jpg", "https://i/500x500/a.jpg"},
		{"https://i/50x50/a.jpg", "https://i/500x500/a.jpg"},
		{"https://i/500x500/a.jpg", "https://i/500x500/a.jpg"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := upgradeImageURL(tc.in); got != tc.want {
			t.Errorf("upgradeImageURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	// Idempotence.
	if got := upgradeImageURL(upgradeImageURL("https://i/150x150/a.jpg")); got != "https://i/500x500/a.jpg" {
		t.Fatalf("upgrade must be idempotent, got %q", got)
	}
}

func TestCoerceInt(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{42, 42},
		{float64(7), 7},
		{"19", 19},
		{"-3", 0},
		{-3, 0},
		{"junk", 0},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := coerceInt(tc.in); got != tc.want {
			t.Errorf("coerceInt(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
