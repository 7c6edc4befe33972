package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/segcache"
)

// Resolver maps a content hash to the upstream URL its bytes live at.
// Upstream URLs expire, so resolution happens per fetch rather than once.
type Resolver interface {
	Resolve(ctx context.Context, hash string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, hash string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, hash string) (string, error) {
	return f(ctx, hash)
}

// UpstreamFetcher downloads segment bytes from the origin. It plugs into the
// segment cache as its fetcher.
type UpstreamFetcher struct {
	resolver Resolver
	client   *http.Client
	maxBytes int64
}

// maxSegmentBytes caps a single segment download.
const maxSegmentBytes = 32 << 20

func NewUpstreamFetcher(resolver Resolver, client *http.Client) *UpstreamFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &UpstreamFetcher{resolver: resolver, client: client, maxBytes: maxSegmentBytes}
}

func (f *UpstreamFetcher) Fetch(ctx context.Context, hash string) ([]byte, error) {
	url, err := f.resolver.Resolve(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", hash, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d for %s", resp.StatusCode, hash)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return data, nil
}

// Handler serves cached audio segments by content hash.
type Handler struct {
	cache *segcache.Cache
}

func NewHandler(cache *segcache.Cache) *Handler {
	return &Handler{cache: cache}
}

// HandleSegment serves GET /api/audio/{hash}. Bytes behind a hash never
// change, so responses are marked immutable; every client in a room hitting
// the same segment collapses into one upstream fetch.
func (h *Handler) HandleSegment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/api/audio/")
	if hash == "" || strings.Contains(hash, "/") {
		http.Error(w, "invalid segment hash", http.StatusBadRequest)
		return
	}

	data, err := h.cache.Get(r.Context(), hash)
	if err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("segment fetch failed")
		http.Error(w, "segment unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/webm")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("client went away mid-segment")
	}
}

// RegisterRoutes registers the audio routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/audio/", h.HandleSegment)
}
