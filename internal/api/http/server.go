package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"songstream/catalogservice/internal/catalog"
	"songstream/catalogservice/internal/domain"
)

type CatalogService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error)
	GetSong(ctx context.Context, id string, includeLyrics bool) (domain.Song, error)
	GetAlbum(ctx context.Context, id string) (domain.Album, error)
	GetPlaylist(ctx context.Context, id string) (domain.Playlist, error)
	GetLyrics(ctx context.Context, lyricsID string) (string, error)
	ClearCache(ctx context.Context)
	Sources() []domain.SourceInfo
	SourceDiagnostics() []domain.SourceDiagnostics
}

const maxQueryLength = 500

type Server struct {
	catalog CatalogService
	logger  *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(catalogService CatalogService, options ...ServerOption) *Server {
	server := &Server{
		catalog: catalogService,
		logger:  slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v2/songs/search", s.handleSearch)
	mux.HandleFunc("/v2/songs/", s.handleSong)
	mux.HandleFunc("/v2/albums/", s.handleAlbum)
	mux.HandleFunc("/v2/playlists/", s.handlePlaylist)
	mux.HandleFunc("/v2/lyrics/", s.handleLyrics)
	mux.HandleFunc("/v2/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/v2/sources", s.handleSources)
	mux.HandleFunc("/v2/sources/health", s.handleSourcesHealth)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "catalog-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "Query parameter is required", nil)
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "Query too long (max 500 characters)", nil)
		return
	}

	page, err := parsePositiveInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", nil)
		return
	}
	limit, err := parsePositiveInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", nil)
		return
	}

	request := domain.SearchRequest{
		Query:         query,
		Page:          page,
		Limit:         limit,
		IncludeLyrics: parseBoolParam(r, "lyrics", false),
		AllowFallback: parseBoolParam(r, "scraping", true),
		NoCache:       parseBoolParam(r, "nocache", false),
	}

	response, err := s.catalog.Search(r.Context(), request)
	if err != nil {
		s.writeCatalogError(w, r, "Search failed", err)
		return
	}

	meta := paginationMeta(response.Page, response.Limit, response.TotalItems)
	meta["sources"] = response.Sources
	meta["sources_ok"] = response.SourcesOK
	meta["elapsed_ms"] = response.ElapsedMS
	writeSuccess(w, response.Songs, "Songs retrieved successfully", meta)
}

func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := pathSuffix(r.URL.Path, "/v2/songs/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Song id is required", nil)
		return
	}

	song, err := s.catalog.GetSong(r.Context(), id, parseBoolParam(r, "lyrics", false))
	if err != nil {
		s.writeCatalogError(w, r, "Song lookup failed", err)
		return
	}
	writeSuccess(w, song, "Song retrieved successfully", nil)
}

func (s *Server) handleAlbum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := pathSuffix(r.URL.Path, "/v2/albums/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Album id is required", nil)
		return
	}

	album, err := s.catalog.GetAlbum(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, "Album lookup failed", err)
		return
	}
	writeSuccess(w, album, "Album retrieved successfully", nil)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := pathSuffix(r.URL.Path, "/v2/playlists/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Playlist id is required", nil)
		return
	}

	playlist, err := s.catalog.GetPlaylist(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, "Playlist lookup failed", err)
		return
	}
	writeSuccess(w, playlist, "Playlist retrieved successfully", nil)
}

func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := pathSuffix(r.URL.Path, "/v2/lyrics/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Lyrics id is required", nil)
		return
	}

	lyrics, err := s.catalog.GetLyrics(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, "Lyrics lookup failed", err)
		return
	}
	if lyrics == "" {
		writeError(w, http.StatusNotFound, "Lyrics not found", nil)
		return
	}
	writeSuccess(w, map[string]string{"lyrics": lyrics}, "Lyrics retrieved successfully", nil)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.catalog.ClearCache(r.Context())
	s.logger.Info("cache cleared")
	writeSuccess(w, map[string]string{"cache": "cleared"}, "Cache cleared successfully", nil)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeSuccess(w, s.catalog.Sources(), "Sources retrieved successfully", nil)
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeSuccess(w, s.catalog.SourceDiagnostics(), "Source health retrieved successfully", map[string]any{
		"checked_at": time.Now().Unix(),
	})
}

func (s *Server) writeCatalogError(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.logger.Warn("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, catalog.ErrInvalidQuery), errors.Is(err, catalog.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, catalog.ErrNoSources):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, message, err.Error())
	}
}

// pathSuffix extracts the trailing id segment after a route prefix. Nested
// paths are rejected.
func pathSuffix(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return strings.TrimSpace(id)
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseBoolParam(r *http.Request, key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
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

func paginationMeta(page, limit, total int) map[string]any {
	return map[string]any{
		"page":     page,
		"limit":    limit,
		"total":    total,
		"has_next": page*limit < total,
		"has_prev": page > 1,
	}
}

func writeSuccess(w http.ResponseWriter, data any, message string, meta map[string]any) {
	payload := map[string]any{
		"status":    "success",
		"message":   message,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}
	if len(meta) > 0 {
		payload["meta"] = meta
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	payload := map[string]any{
		"status":     "error",
		"message":    message,
		"error_code": status,
		"timestamp":  time.Now().Unix(),
	}
	if details != nil {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
