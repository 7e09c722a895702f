// Package switchwatch consumes irrigation switch events from Kafka and turns
// them into soil bucket credits.
package switchwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/internal/soil"
	"github.com/chrissnell/irrigationwx/internal/types"
)

// Switch states
const (
	StateOn  = "on"
	StateOff = "off"
)

// Event is a switch state change as published on the bus
type Event struct {
	Switch  string    `json:"switch"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
	DepthMM *float64  `json:"depth_mm,omitempty"`
}

// Crediter is the part of the soil model the watcher drives
type Crediter interface {
	QueueGlobalCreditOnce(ctx context.Context, depthMM float64) (bool, error)
	CreditIrrigation(ctx context.Context, zone soil.Zone, depthMM float64) (*types.SoilBucketState, error)
}

// MessageReader is the subset of *kafka.Reader used by the watcher
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config describes the topic and how switches map to credits
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// SourceSwitch is the main valve shared by all zones; "on" queues the daily global credit
	SourceSwitch string
	// ZoneSwitches maps a zone valve to its zone; "on" credits that zone right away
	ZoneSwitches   map[string]soil.Zone
	DefaultDepthMM float64
	// RetryDelay is the pause before a credit that hit a store outage is retried
	RetryDelay time.Duration
}

const defaultRetryDelay = 5 * time.Second

// Watcher reads switch events and applies them
type Watcher struct {
	cfg     Config
	reader  MessageReader
	model   Crediter
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// NewWatcher creates a Watcher with a consumer-group reader on cfg.Topic
func NewWatcher(cfg Config, model Crediter, m *metrics.Metrics, logger *zap.SugaredLogger) *Watcher {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return NewWatcherWithReader(cfg, r, model, m, logger)
}

// NewWatcherWithReader creates a Watcher on an existing reader
func NewWatcherWithReader(cfg Config, r MessageReader, model Crediter, m *metrics.Metrics, logger *zap.SugaredLogger) *Watcher {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Watcher{cfg: cfg, reader: r, model: model, metrics: m, logger: log.OrNop(logger)}
}

// Close closes the reader
func (w *Watcher) Close() error {
	return w.reader.Close()
}

// Run consumes events until ctx is cancelled. Undecodable messages and
// rejected credits are logged and committed so a poison message cannot stall
// the topic. A credit that failed because the store is unreachable is retried
// until it succeeds; its offset is not committed before then.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Infof("watching switch events on %s", w.cfg.Topic)
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("unable to fetch switch event: %w", err)
		}

		ev, err := DecodeEvent(msg)
		if err != nil {
			w.logger.Warnf("skipping switch event at offset %d: %v", msg.Offset, err)
		} else if !w.handleUntilStored(ctx, ev) {
			return nil
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("unable to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handleUntilStored applies ev, waiting out store outages. It returns false
// when ctx ends first.
func (w *Watcher) handleUntilStored(ctx context.Context, ev Event) bool {
	for {
		err := w.Handle(ctx, ev)
		if err == nil {
			return true
		}
		if !errors.Is(err, types.ErrStoreUnavailable) {
			w.logger.Errorf("switch event %s/%s failed: %v", ev.Switch, ev.State, err)
			return true
		}
		w.logger.Warnf("switch event %s/%s: %v; retrying in %s", ev.Switch, ev.State, err, w.cfg.RetryDelay)

		t := time.NewTimer(w.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// DecodeEvent parses a bus message
func DecodeEvent(msg kafkago.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed switch event: %w", err)
	}
	ev.State = strings.ToLower(strings.TrimSpace(ev.State))
	if ev.Switch == "" {
		return Event{}, errors.New("switch event has no switch name")
	}
	if ev.State != StateOn && ev.State != StateOff {
		return Event{}, fmt.Errorf("switch event has unknown state %q", ev.State)
	}
	if ev.At.IsZero() {
		ev.At = msg.Time
	}
	return ev, nil
}

// Handle applies one event. Only "on" transitions credit water.
func (w *Watcher) Handle(ctx context.Context, ev Event) error {
	if w.metrics != nil {
		w.metrics.SwitchEvents.WithLabelValues(ev.State).Inc()
	}
	if ev.State != StateOn {
		return nil
	}

	depth := w.cfg.DefaultDepthMM
	if ev.DepthMM != nil {
		depth = *ev.DepthMM
	}
	if depth <= 0 {
		w.logger.Warnf("switch %s turned on without an irrigation depth, ignoring", ev.Switch)
		return nil
	}

	if ev.Switch == w.cfg.SourceSwitch {
		captured, err := w.model.QueueGlobalCreditOnce(ctx, depth)
		w.countCredit("global", captured, err)
		return err
	}

	zone, ok := w.cfg.ZoneSwitches[ev.Switch]
	if !ok {
		w.logger.Debugf("switch %s is not an irrigation valve", ev.Switch)
		return nil
	}
	_, err := w.model.CreditIrrigation(ctx, zone, depth)
	w.countCredit("zone", err == nil, err)
	return err
}

func (w *Watcher) countCredit(kind string, captured bool, err error) {
	if w.metrics == nil {
		return
	}
	outcome := "captured"
	switch {
	case err != nil:
		outcome = "error"
	case !captured:
		outcome = "duplicate"
	}
	w.metrics.Credits.WithLabelValues(kind, outcome).Inc()
}
