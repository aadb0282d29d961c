package pipeline

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-narrator/pipeline"

type instruments struct {
	tracer   trace.Tracer
	chunks   metric.Int64Counter
	duration metric.Float64Histogram
	runs     metric.Int64Counter
}

func newInstruments() (instruments, error) {
	meter := otel.Meter(instrumentationName)
	chunks, err := meter.Int64Counter("narrator.chunks.synthesized",
		metric.WithDescription("Chunks sent to a synthesizer, by backend and outcome"))
	if err != nil {
		return instruments{}, err
	}
	duration, err := meter.Float64Histogram("narrator.synthesis.duration",
		metric.WithDescription("Time to synthesize one chunk including retries"),
		metric.WithUnit("ms"))
	if err != nil {
		return instruments{}, err
	}
	runs, err := meter.Int64Counter("narrator.runs",
		metric.WithDescription("Narration runs, by backend and outcome"))
	if err != nil {
		return instruments{}, err
	}
	return instruments{
		tracer:   otel.Tracer(instrumentationName),
		chunks:   chunks,
		duration: duration,
		runs:     runs,
	}, nil
}
