package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeSource fetches the authoritative instant as Unix milliseconds. The
// instant must be captured as close to the wire as the transport allows.
type TimeSource interface {
	ServerTime(ctx context.Context) (int64, error)
}

// ErrNoSamples is returned by Sync when every probe failed. The previous
// offset, if any, stays in effect.
var ErrNoSamples = errors.New("clocksync: no probe succeeded")

// Config controls how a Sync round samples the server clock.
type Config struct {
	// Samples is the number of round-trip probes per Sync. Minimum 5.
	Samples int
	// SampleDelay spaces probes apart so one network burst cannot skew the
	// whole round. Zero disables the delay.
	SampleDelay time.Duration
}

// DefaultConfig returns the probing parameters used in production.
func DefaultConfig() Config {
	return Config{
		Samples:     8,
		SampleDelay: 30 * time.Millisecond,
	}
}

// Estimator maintains a single scalar offset between the local clock and the
// server clock, estimated from sampled round trips. Now() never blocks; it
// reads the last estimated offset and degrades to the local clock when no
// Sync has succeeded yet.
type Estimator struct {
	source TimeSource
	clock  clockwork.Clock
	cfg    Config

	mu       sync.RWMutex
	offsetMs float64
	synced   bool
}

type probeSample struct {
	offsetMs float64
	rttMs    float64
}

func New(source TimeSource, clock clockwork.Clock, cfg Config) *Estimator {
	if cfg.Samples < 5 {
		cfg.Samples = 5
	}
	return &Estimator{source: source, clock: clock, cfg: cfg}
}

// Sync performs one probing round and replaces the stored offset with the
// aggregate estimate. Individual probe failures are tolerated; if no probe
// succeeds the previous offset is left untouched and ErrNoSamples returned.
func (e *Estimator) Sync(ctx context.Context) error {
	samples := make([]probeSample, 0, e.cfg.Samples)
	for i := 0; i < e.cfg.Samples; i++ {
		s, err := e.probe(ctx)
		if err != nil {
			log.Warn().Err(err).Int("probe", i+1).Msg("clock probe failed")
		} else {
			samples = append(samples, s)
		}
		if i < e.cfg.Samples-1 && e.cfg.SampleDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(e.cfg.SampleDelay):
			}
		}
	}
	if len(samples) == 0 {
		return ErrNoSamples
	}

	offset := aggregate(samples)

	e.mu.Lock()
	e.offsetMs = offset
	e.synced = true
	e.mu.Unlock()

	log.Info().
		Float64("offset_ms", offset).
		Int("samples", len(samples)).
		Msg("clock synchronized")
	return nil
}

func (e *Estimator) probe(ctx context.Context) (probeSample, error) {
	send := e.clock.Now()
	serverMs, err := e.source.ServerTime(ctx)
	if err != nil {
		return probeSample{}, fmt.Errorf("fetch server time: %w", err)
	}
	recv := e.clock.Now()

	rtt := float64(recv.Sub(send)) / float64(time.Millisecond)
	recvMs := float64(recv.UnixNano()) / float64(time.Millisecond)
	// Assume a symmetric path: the server stamped its reply mid-flight.
	offset := float64(serverMs) + rtt/2 - recvMs
	return probeSample{offsetMs: offset, rttMs: rtt}, nil
}

// Now returns the estimated server time. Before the first successful Sync it
// is simply the local clock.
func (e *Estimator) Now() time.Time {
	local := e.clock.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.synced {
		return local
	}
	return local.Add(time.Duration(e.offsetMs * float64(time.Millisecond)))
}

// NowUnixMilli is Now() in the wire format used by command envelopes.
func (e *Estimator) NowUnixMilli() int64 {
	return e.Now().UnixMilli()
}

// Offset reports the current offset estimate in milliseconds and whether a
// Sync has ever succeeded.
func (e *Estimator) Offset() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offsetMs, e.synced
}

// aggregate folds one round of probes into a scalar offset. Probes are
// filtered on round-trip time, not offset: a slow round trip biases its
// offset estimate, so rejecting on offset would be circular. From the
// survivors the lowest-RTT half carries the best symmetry assumption, and
// the median of their offsets resists the remaining stragglers.
func aggregate(samples []probeSample) float64 {
	filtered := rejectRTTOutliers(samples)
	if len(filtered) == 0 {
		filtered = samples
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].rttMs < filtered[j].rttMs })
	half := len(filtered) / 2
	if half < 1 {
		half = 1
	}
	best := filtered[:half]

	offsets := make([]float64, len(best))
	for i, s := range best {
		offsets[i] = s.offsetMs
	}
	return median(offsets)
}

// rejectRTTOutliers drops samples whose RTT exceeds Q3 + 1.5*IQR. Fewer than
// three samples cannot support quartiles and pass through unchanged.
func rejectRTTOutliers(samples []probeSample) []probeSample {
	if len(samples) < 3 {
		return samples
	}
	rtts := make([]float64, len(samples))
	for i, s := range samples {
		rtts[i] = s.rttMs
	}
	sort.Float64s(rtts)
	q1 := rtts[len(rtts)/4]
	q3 := rtts[len(rtts)*3/4]
	threshold := q3 + 1.5*(q3-q1)

	kept := make([]probeSample, 0, len(samples))
	for _, s := range samples {
		if s.rttMs <= threshold {
			kept = append(kept, s)
		}
	}
	return kept
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
