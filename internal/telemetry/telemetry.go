package telemetry

import (
	"time"

	"github.com/rs/zerolog/log"
)

// RunEvent is the one telemetry datum a deployment run produces.
type RunEvent struct {
	Outcome   string
	Version   string
	Duration  time.Duration
	Timestamp time.Time
}

// Emitter sends run events to an OTLP endpoint, fire-and-forget: an export
// failure is logged at debug level and never surfaced to the run.
type Emitter struct {
	enabled     bool
	service     string
	environment string
	exporter    *OTLPExporter
}

func NewEmitter(enabled bool, endpoint, service, environment string) *Emitter {
	e := &Emitter{
		enabled:     enabled,
		service:     service,
		environment: environment,
	}
	if enabled && endpoint != "" {
		e.exporter = NewOTLPExporter(endpoint)
	}
	return e
}

// EmitRun records one finished deployment run.
func (e *Emitter) EmitRun(outcome, version string, d time.Duration) {
	if !e.enabled {
		return
	}
	ev := RunEvent{
		Outcome:   outcome,
		Version:   version,
		Duration:  d,
		Timestamp: time.Now(),
	}
	if e.exporter == nil {
		log.Info().
			Str("outcome", ev.Outcome).
			Str("version", ev.Version).
			Dur("duration", ev.Duration).
			Msg("deployment_event")
		return
	}
	if err := e.exporter.ExportRun(e.service, e.environment, ev); err != nil {
		log.Debug().Err(err).Msg("telemetry export failed")
	}
}
