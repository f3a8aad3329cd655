package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/mqtt"
	"github.com/mosys-billing/tvfleet/internal/scan"
)

// eventQueueSize bounds messages waiting for the MQTT publisher. Registry
// callbacks run under a per-address lock, so they only enqueue.
const eventQueueSize = 256

// StatusRemoved is published on a display's state topic after removal.
const StatusRemoved = "removed"

// StatePayload is the retained message on tvfleet/state/{backend}/{address}.
type StatePayload struct {
	Address        string            `json:"address"`
	Name           string            `json:"name,omitempty"`
	Status         string            `json:"status"`
	ResponseTimeMS *float64          `json:"response_time_ms,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

type outbound struct {
	topic    string
	payload  any
	retained bool
}

// eventSink relays registry, dispatcher and scanner events to MQTT and
// InfluxDB from a single worker goroutine.
type eventSink struct {
	backend   string
	publisher Publisher
	telemetry Telemetry
	logger    *logging.Logger
	queue     chan outbound
}

func newEventSink(backend string, pub Publisher, tel Telemetry, logger *logging.Logger) *eventSink {
	return &eventSink{
		backend:   backend,
		publisher: pub,
		telemetry: tel,
		logger:    logger,
		queue:     make(chan outbound, eventQueueSize),
	}
}

func (e *eventSink) enqueue(msg outbound) {
	if e.publisher == nil {
		return
	}
	select {
	case e.queue <- msg:
	default:
		e.logger.Warn("event queue full, dropping message", "topic", msg.topic)
	}
}

// run publishes queued messages until ctx is cancelled, then flushes what
// is already queued.
func (e *eventSink) run(ctx context.Context) {
	for {
		select {
		case msg := <-e.queue:
			e.publish(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-e.queue:
					e.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (e *eventSink) publish(msg outbound) {
	if err := e.publisher.PublishJSON(msg.topic, msg.payload, msg.retained); err != nil {
		e.logger.Debug("MQTT publish failed", "topic", msg.topic, "error", err)
	}
}

func (e *eventSink) deviceEvent(ev device.Event) {
	topics := mqtt.Topics{}
	now := time.Now().UTC()

	if ev.Type == device.EventRemoved {
		e.enqueue(outbound{
			topic:    topics.State(e.backend, ev.Address),
			payload:  StatePayload{Address: ev.Address, Status: StatusRemoved, Timestamp: now},
			retained: true,
		})
		return
	}

	if ev.Type == device.EventEdited && ev.OldAddress != "" && ev.OldAddress != ev.Address {
		e.enqueue(outbound{
			topic:    topics.State(e.backend, ev.OldAddress),
			payload:  StatePayload{Address: ev.OldAddress, Status: StatusRemoved, Timestamp: now},
			retained: true,
		})
	}

	if ev.Record == nil {
		return
	}
	e.enqueue(outbound{
		topic: topics.State(e.backend, ev.Address),
		payload: StatePayload{
			Address:        ev.Record.Address,
			Name:           ev.Record.Name,
			Status:         string(ev.Record.Status),
			ResponseTimeMS: ev.Record.ResponseTimeMS,
			Extra:          ev.Record.Extra,
			Timestamp:      now,
		},
		retained: true,
	})
}

func (e *eventSink) outcome(ev dispatch.OutcomeEvent) {
	if e.telemetry != nil {
		e.telemetry.WriteCommandOutcome(e.backend, ev.Address, ev.Command, string(ev.Outcome.Status), ev.Outcome.DurationMS)
	}
	e.enqueue(outbound{topic: mqtt.Topics{}.Outcome(e.backend, ev.Address), payload: ev})
}

func (e *eventSink) scanCompleted(snap *scan.Snapshot) {
	e.enqueue(outbound{topic: mqtt.Topics{}.Scan(e.backend), payload: snap, retained: true})
}

// healthRecorder writes every monitor cycle to InfluxDB.
type healthRecorder struct {
	backend   string
	telemetry Telemetry
}

func (h *healthRecorder) RecordHealth(address string, health device.Health) {
	h.telemetry.WriteDeviceStatus(h.backend, address, string(health.Status))
	if health.Status == device.StatusOnline {
		ms := float64(health.ResponseTime.Microseconds()) / 1000
		h.telemetry.WriteProbeLatency(h.backend, address, ms)
	}
}

// commandMessage is the JSON form of an inbound MQTT command. A bare
// command name is also accepted.
type commandMessage struct {
	Command string `json:"command"`
}

func parseCommandPayload(payload []byte) (string, error) {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidCommandMessage)
	}
	if strings.HasPrefix(body, "{") {
		var msg commandMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidCommandMessage, err)
		}
		body = strings.TrimSpace(msg.Command)
		if body == "" {
			return "", fmt.Errorf("%w: missing command", ErrInvalidCommandMessage)
		}
	}
	return body, nil
}

// handleCommandMessage sends a command received on
// tvfleet/command/{backend}/{address}. The send runs off the MQTT client's
// delivery goroutine; its outcome is published through the outcome topic.
func (s *Service) handleCommandMessage(topic string, payload []byte) error {
	address, ok := mqtt.ParseAddress(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommandMessage, topic)
	}
	command, err := parseCommandPayload(payload)
	if err != nil {
		return err
	}

	s.runMu.Lock()
	ctx := s.runCtx
	if ctx == nil {
		s.runMu.Unlock()
		return fmt.Errorf("%w: service not running", ErrStopped)
	}
	s.wg.Add(1)
	s.runMu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.dispatcher.SendImmediate(ctx, address, command); err != nil {
			s.logger.Warn("MQTT command rejected", "address", address, "command", command, "error", err)
		}
	}()
	return nil
}
