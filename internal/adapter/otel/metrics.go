package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentgate"

// Metrics holds all AgentGate metric instruments.
type Metrics struct {
	SessionsCreated   metric.Int64Counter
	EventsAppended    metric.Int64Counter
	WatcherReconnects metric.Int64Counter
	CommandsExecuted  metric.Int64Counter
	StreamDelivered   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsCreated, err = meter.Int64Counter("agentgate.sessions.created",
		metric.WithDescription("Number of sessions created against the upstream runtime"))
	if err != nil {
		return nil, err
	}

	m.EventsAppended, err = meter.Int64Counter("agentgate.events.appended",
		metric.WithDescription("Number of events appended to session logs"))
	if err != nil {
		return nil, err
	}

	m.WatcherReconnects, err = meter.Int64Counter("agentgate.watcher.reconnects",
		metric.WithDescription("Number of upstream subscription reconnects"))
	if err != nil {
		return nil, err
	}

	m.CommandsExecuted, err = meter.Int64Counter("agentgate.commands.executed",
		metric.WithDescription("Number of client commands dispatched upstream"))
	if err != nil {
		return nil, err
	}

	m.StreamDelivered, err = meter.Int64Counter("agentgate.stream.delivered",
		metric.WithDescription("Number of events delivered to streaming clients"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
