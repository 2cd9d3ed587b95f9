// Package sync drives the inbox automation loop: a recurring poller that
// fetches unseen mail and feeds each message through the automation
// engine, isolating failures per message and per cycle.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"mailpilot/internal/automation"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/metrics"
	"mailpilot/internal/model"
)

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// minInterval is the floor for the poll interval.
const minInterval = 30 * time.Second

// Fetcher is the mailbox surface the poller needs.
type Fetcher interface {
	FetchUnseen(ctx context.Context) ([]mailbox.Inbound, error)
}

// Engine processes one inbound message through the automation pipeline.
type Engine interface {
	ProcessInbound(ctx context.Context, msg mailbox.Inbound) (*automation.Result, error)
}

// CycleStats aggregates one poll cycle for observability.
type CycleStats struct {
	Fetched     int
	AutoReplied int
	Escalated   int
	Duplicates  int
	Errors      int
}

// Status is a snapshot of the poller for health reporting.
type Status struct {
	Running             bool       `json:"running"`
	LastCycleAt         *time.Time `json:"last_cycle_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFetched         int        `json:"last_fetched"`
	LastErrors          int        `json:"last_errors"`
}

// Poller runs the recurring fetch-and-process loop. A single instance
// owns the monitored mailbox; running several pollers against the same
// mailbox is unsupported.
type Poller struct {
	mailbox  Fetcher
	engine   Engine
	interval time.Duration

	// maxBackoff caps the wait after consecutive failed cycles.
	maxBackoff time.Duration

	logger zerolog.Logger

	mu          gosync.Mutex
	running     bool
	lastCycleAt time.Time
	lastStats   CycleStats
	lastErr     error
	failures    int

	// cycleMu guards against overlapping cycles when a manual trigger
	// races the timer.
	cycleMu gosync.Mutex

	stopCh    chan struct{}
	doneCh    chan struct{}
	triggerCh chan struct{}
}

// New creates a poller from the poll settings. Intervals below the floor
// are raised to it; a zero backoff cap derives eight times the interval.
func New(mb Fetcher, engine Engine, cfg model.PollConfig, logger zerolog.Logger) *Poller {
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval < minInterval {
		interval = minInterval
	}

	maxBackoff := time.Duration(cfg.MaxBackoffSec) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = 8 * interval
	}

	return &Poller{
		mailbox:    mb,
		engine:     engine,
		interval:   interval,
		maxBackoff: maxBackoff,
		logger:     logger.With().Str("component", "poller").Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		triggerCh:  make(chan struct{}, 1),
	}
}

// Start launches the polling loop: an immediate first cycle, then one per
// interval (stretched by backoff after consecutive failures).
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Info().Dur("interval", p.interval).Msg("Inbox poller started")

	go p.run()
}

// Stop halts the loop and waits for an in-flight cycle to finish its
// current message, so nothing is left half-persisted.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh

	p.logger.Info().Msg("Inbox poller stopped")
}

// TriggerNow requests an immediate poll cycle without blocking. A request
// already pending is enough.
func (p *Poller) TriggerNow() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot for health reporting.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:             p.running,
		ConsecutiveFailures: p.failures,
		LastFetched:         p.lastStats.Fetched,
		LastErrors:          p.lastStats.Errors,
	}
	if !p.lastCycleAt.IsZero() {
		at := p.lastCycleAt
		st.LastCycleAt = &at
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}

	return st
}

func (p *Poller) run() {
	defer close(p.doneCh)

	p.cycle()

	for {
		timer := time.NewTimer(p.nextWait())
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		case <-p.triggerCh:
			timer.Stop()
		}
		p.cycle()
	}
}

// nextWait returns the delay before the next cycle, applying exponential
// backoff after consecutive failures.
func (p *Poller) nextWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return backoffWait(p.interval, p.maxBackoff, p.failures)
}

// backoffWait doubles the interval per consecutive failure, capped.
func backoffWait(interval, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return interval
	}

	wait := interval
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}

	return wait
}

// cycle runs one poll cycle and records its outcome.
func (p *Poller) cycle() {
	start := time.Now()

	stats, err := p.PollOnce(context.Background())
	elapsed := time.Since(start)

	p.mu.Lock()
	p.lastCycleAt = time.Now().UTC()
	p.lastStats = stats
	p.lastErr = err
	if err != nil {
		p.failures++
	} else {
		p.failures = 0
	}
	failures := p.failures
	p.mu.Unlock()

	metrics.SetConsecutiveFailures(failures)

	if err != nil {
		metrics.RecordCycle("error", elapsed)
		p.logger.Warn().
			Err(err).
			Int("consecutive_failures", failures).
			Dur("next_wait", backoffWait(p.interval, p.maxBackoff, failures)).
			Msg("Poll cycle failed")
		return
	}

	metrics.RecordCycle("ok", elapsed)

	if stats.Fetched > 0 {
		p.logger.Info().
			Int("fetched", stats.Fetched).
			Int("auto_replied", stats.AutoReplied).
			Int("escalated", stats.Escalated).
			Int("duplicates", stats.Duplicates).
			Int("errors", stats.Errors).
			Dur("elapsed", elapsed).
			Msg("Poll cycle completed")
	}
}

// PollOnce executes a single fetch-and-process cycle. A fetch failure
// ends the cycle early (fetch-unseen is idempotent, the next tick retries
// from scratch); per-message failures are counted and the batch
// continues. An overlapping call is skipped.
func (p *Poller) PollOnce(ctx context.Context) (CycleStats, error) {
	if !p.cycleMu.TryLock() {
		p.logger.Debug().Msg("Poll cycle already in progress, skipping")
		return CycleStats{}, nil
	}
	defer p.cycleMu.Unlock()

	var stats CycleStats

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	messages, err := p.mailbox.FetchUnseen(fetchCtx)
	cancel()
	if err != nil {
		return stats, err
	}

	stats.Fetched = len(messages)

	for _, msg := range messages {
		// Stop requests take effect between messages, never mid-way
		// through a state transition.
		select {
		case <-p.stopCh:
			p.logger.Info().Msg("Stop requested, ending cycle early")
			return stats, nil
		default:
		}

		result, err := p.engine.ProcessInbound(ctx, msg)
		if err != nil {
			stats.Errors++
			metrics.RecordMessage("error")
			p.logger.Error().
				Err(err).
				Str("message_id", msg.MessageID).
				Msg("Failed to process inbound message")
			continue
		}

		metrics.RecordMessage(string(result.Outcome))
		switch result.Outcome {
		case automation.OutcomeAutoReplied:
			stats.AutoReplied++
		case automation.OutcomeEscalated:
			stats.Escalated++
		case automation.OutcomeDuplicate:
			stats.Duplicates++
		}
	}

	return stats, nil
}
