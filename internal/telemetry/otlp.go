package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// OTLPExporter posts deployment metrics in a simplified OTLP JSON shape.
type OTLPExporter struct {
	endpoint string
	client   *http.Client
}

func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type otlpMetricsPayload struct {
	ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
}

type otlpResourceMetrics struct {
	Resource     otlpResource       `json:"resource"`
	ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeMetrics struct {
	Scope   otlpScope    `json:"scope"`
	Metrics []otlpMetric `json:"metrics"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type otlpMetric struct {
	Name  string     `json:"name"`
	Unit  string     `json:"unit,omitempty"`
	Sum   *otlpSum   `json:"sum,omitempty"`
	Gauge *otlpGauge `json:"gauge,omitempty"`
}

type otlpSum struct {
	DataPoints             []otlpNumberDataPoint `json:"dataPoints"`
	AggregationTemporality int                   `json:"aggregationTemporality"`
	IsMonotonic            bool                  `json:"isMonotonic"`
}

type otlpGauge struct {
	DataPoints []otlpNumberDataPoint `json:"dataPoints"`
}

type otlpNumberDataPoint struct {
	Attributes   []otlpAttribute `json:"attributes,omitempty"`
	TimeUnixNano int64           `json:"timeUnixNano"`
	AsDouble     float64         `json:"asDouble"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
}

// ExportRun sends one deployment run as a pair of metrics: a monotonic run
// counter and the run duration, both tagged with outcome and version.
func (e *OTLPExporter) ExportRun(service, environment string, ev RunEvent) error {
	payload := buildRunPayload(service, environment, ev)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal OTLP payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("OTLP endpoint returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("endpoint", e.endpoint).
		Str("outcome", ev.Outcome).
		Int("status", resp.StatusCode).
		Msg("exported deployment event via OTLP")
	return nil
}

func buildRunPayload(service, environment string, ev RunEvent) otlpMetricsPayload {
	attrs := []otlpAttribute{
		{Key: "deployment.outcome", Value: otlpValue{StringValue: ev.Outcome}},
		{Key: "deployment.version", Value: otlpValue{StringValue: ev.Version}},
	}
	timeNano := ev.Timestamp.UnixNano()

	runs := otlpMetric{
		Name: "deployment.runs",
		Sum: &otlpSum{
			DataPoints: []otlpNumberDataPoint{{
				Attributes:   attrs,
				TimeUnixNano: timeNano,
				AsDouble:     1,
			}},
			AggregationTemporality: 2, // CUMULATIVE
			IsMonotonic:            true,
		},
	}
	duration := otlpMetric{
		Name: "deployment.duration",
		Unit: "ms",
		Gauge: &otlpGauge{
			DataPoints: []otlpNumberDataPoint{{
				Attributes:   attrs,
				TimeUnixNano: timeNano,
				AsDouble:     float64(ev.Duration.Milliseconds()),
			}},
		},
	}

	return otlpMetricsPayload{
		ResourceMetrics: []otlpResourceMetrics{{
			Resource: otlpResource{
				Attributes: []otlpAttribute{
					{Key: "service.name", Value: otlpValue{StringValue: service}},
					{Key: "deployment.environment", Value: otlpValue{StringValue: environment}},
				},
			},
			ScopeMetrics: []otlpScopeMetrics{{
				Scope:   otlpScope{Name: "deployctl", Version: "1.0.0"},
				Metrics: []otlpMetric{runs, duration},
			}},
		}},
	}
}
