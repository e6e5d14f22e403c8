package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	UpstreamTimeout   time.Duration
	LogLevel          string
	LogFormat         string
	UserAgent         string
	SearchEndpoints   []string
	SongEndpoint      string
	AlbumEndpoint     string
	PlaylistEndpoint  string
	LyricsEndpoint    string
	WebEndpoint       string
	RedisURL          string
	SearchCacheTTL    time.Duration
	DetailCacheTTL    time.Duration
	CacheDisabled     bool
	FallbackThreshold int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8085"),
		UpstreamTimeout:   time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 10)) * time.Second,
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:         getEnv("CATALOG_USER_AGENT", "songstream-catalog/1.0"),
		SearchEndpoints:   splitCSV(getEnv("CATALOG_SEARCH_ENDPOINTS", "")),
		SongEndpoint:      getEnv("CATALOG_SONG_ENDPOINT", ""),
		AlbumEndpoint:     getEnv("CATALOG_ALBUM_ENDPOINT", ""),
		PlaylistEndpoint:  getEnv("CATALOG_PLAYLIST_ENDPOINT", ""),
		LyricsEndpoint:    getEnv("CATALOG_LYRICS_ENDPOINT", ""),
		WebEndpoint:       getEnv("CATALOG_WEB_ENDPOINT", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		SearchCacheTTL:    time.Duration(getEnvInt("SEARCH_CACHE_TTL_SECONDS", 600)) * time.Second,
		DetailCacheTTL:    time.Duration(getEnvInt("DETAIL_CACHE_TTL_SECONDS", 1800)) * time.Second,
		CacheDisabled:     getEnvBool("CACHE_DISABLED", false),
		FallbackThreshold: getEnvInt("SCRAPE_FALLBACK_THRESHOLD", 10),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
