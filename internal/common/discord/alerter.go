package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LineHealth is the part of a line batch the alerter looks at.
type LineHealth struct {
	LineID   string
	Arrivals int
	Unknown  int
	Vehicles int
}

func (h LineHealth) UnknownRatio() float64 {
	if h.Arrivals == 0 {
		return 0
	}
	return float64(h.Unknown) / float64(h.Arrivals)
}

type AlerterConfig struct {
	Threshold float64       // alert when the unknown ratio is above this
	MinSample int           // ignore batches with fewer results
	Cooldown  time.Duration // per line
}

// Alerter posts a warning when a line stops resolving. At most one message
// per line is sent per cooldown.
type Alerter struct {
	client *Client
	config AlerterConfig
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewAlerter(client *Client, cfg AlerterConfig) *Alerter {
	return &Alerter{
		client: client,
		config: cfg,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Check sends an alert for h when warranted and reports whether it did.
func (a *Alerter) Check(ctx context.Context, h LineHealth) (bool, error) {
	if !a.client.Enabled() || h.Arrivals < a.config.MinSample || h.UnknownRatio() <= a.config.Threshold {
		return false, nil
	}

	key := strings.ToLower(h.LineID)
	now := a.now()

	a.mu.Lock()
	if last, ok := a.last[key]; ok && now.Sub(last) < a.config.Cooldown {
		a.mu.Unlock()
		return false, nil
	}
	a.last[key] = now
	a.mu.Unlock()

	msg := NewEmbed(LevelWarn,
		fmt.Sprintf("%s: next station unresolved", h.LineID),
		fmt.Sprintf("%d of %d arrivals resolved to UNKNOWN.", h.Unknown, h.Arrivals),
		now,
		Field{Name: "line", Value: h.LineID},
		Field{Name: "unknown_ratio", Value: fmt.Sprintf("%.0f%%", h.UnknownRatio()*100)},
		Field{Name: "vehicles", Value: fmt.Sprintf("%d", h.Vehicles)},
	)

	if err := a.client.SendMessage(ctx, msg); err != nil {
		a.mu.Lock()
		delete(a.last, key)
		a.mu.Unlock()
		return false, err
	}
	return true, nil
}
