package timesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeResponse is the wire format of the server clock endpoint.
type TimeResponse struct {
	UnixTimestamp int64 `json:"unix_timestamp"`
}

// Handler serves the server clock for client offset estimation.
type Handler struct {
	clock clockwork.Clock
}

func NewHandler() *Handler {
	return &Handler{clock: clockwork.NewRealClock()}
}

// HandleTime returns the current server time in Unix milliseconds. The
// timestamp is taken as late as possible so transport overhead lands in the
// client's RTT measurement instead of the reading itself.
func (h *Handler) HandleTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	resp := TimeResponse{UnixTimestamp: h.clock.Now().UnixMilli()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write time response")
	}
}

// RegisterRoutes registers the time endpoint with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/time", h.HandleTime)
}

// HTTPSource reads a remote server clock endpoint. It satisfies the time
// source interface of the offset estimator.
type HTTPSource struct {
	client *http.Client
	url    string
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{},
		url:    baseURL + "/api/time",
	}
}

func (s *HTTPSource) ServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build time request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server time endpoint returned %d", resp.StatusCode)
	}
	var tr TimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return 0, fmt.Errorf("decode time response: %w", err)
	}
	return tr.UnixTimestamp, nil
}
