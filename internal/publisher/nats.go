package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/pipeline"
	"github.com/tubetrace-engine/pkg/tube/models"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc      conn
	prefix  string
	logger  logger.Logger
	metrics PublisherMetrics
}

func NewNATSPublisher(url, prefix string, log logger.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tubetrace"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	log.Info("NATS connected", "url", nc.ConnectedUrl(), "prefix", prefix)
	return newPublisher(nc, prefix, log, m), nil
}

func newPublisher(nc conn, prefix string, log logger.Logger, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.Trim(prefix, ". "), logger: log, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("NATS drain failed", "error", err)
		}
		p.nc.Close()
	}
}

func (p *NATSPublisher) Name() string { return "nats" }

// PredictionMessage is the payload published for each result.
type PredictionMessage struct {
	BatchID    uuid.UUID     `json:"batchId"`
	RecordedAt time.Time     `json:"recordedAt"`
	Prediction models.Result `json:"prediction"`
}

// Consume publishes every result of b on <prefix>.<line>.<vehicle>.
// Untracked vehicles are published under "_".
func (p *NATSPublisher) Consume(ctx context.Context, b pipeline.Batch) error {
	var errs []error
	for _, res := range b.Results {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := PredictionMessage{BatchID: b.ID, RecordedAt: b.RecordedAt, Prediction: res}
		if err := p.publish(p.Subject(b.LineID, res.VehicleID), msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publishing %d of %d predictions for %s: %w",
			len(errs), len(b.Results), b.LineID, errors.Join(errs...))
	}
	return nil
}

// Subject builds the subject for a line and vehicle.
func (p *NATSPublisher) Subject(lineID, vehicleID string) string {
	if strings.Trim(vehicleID, "0 ") == "" {
		vehicleID = ""
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(strings.ToLower(lineID)), subjectToken(vehicleID))
}

func (p *NATSPublisher) publish(subject string, msg PredictionMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
