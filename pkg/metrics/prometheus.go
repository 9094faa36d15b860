package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dskvich/ogg-to-text/pkg/domain"
	"github.com/dskvich/ogg-to-text/pkg/pump"
)

const namespace = "ogg_to_text"

// Metrics contains all Prometheus collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	TranscodeDuration prometheus.Histogram
	TranscodeExits    *prometheus.CounterVec
	PumpBytes         *prometheus.CounterVec
	PumpFaults        *prometheus.CounterVec
	AudioBytes        prometheus.Histogram

	RecognitionDuration prometheus.Histogram
	RecognitionResults  *prometheus.CounterVec

	FatalErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TranscodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Wall time of one transcoder run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		TranscodeExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_exits_total",
			Help:      "Transcoder runs by exit code",
		}, []string{"code"}),
		PumpBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_bytes_total",
			Help:      "Bytes moved per transcoder stream",
		}, []string{"stream"}),
		PumpFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_faults_total",
			Help:      "I/O faults per transcoder stream",
		}, []string{"stream"}),
		AudioBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wav_bytes",
			Help:      "Size of the repaired WAV sent for recognition",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 2, 10),
		}),
		RecognitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Round trip of one recognition request",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RecognitionResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_results_total",
			Help:      "Recognition results by reason",
		}, []string{"reason"}),
		FatalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Inputs that could not be processed, by stage",
		}, []string{"stage"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTranscode(seconds float64, exitCode int, pumps []pump.Result) {
	m.TranscodeDuration.Observe(seconds)
	m.TranscodeExits.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	for _, p := range pumps {
		m.PumpBytes.WithLabelValues(p.Name).Add(float64(p.Bytes))
		if p.Err != nil {
			m.PumpFaults.WithLabelValues(p.Name).Inc()
		}
	}
}

func (m *Metrics) ObserveRecognition(seconds float64, audioBytes int, reason domain.ResultReason) {
	m.RecognitionDuration.Observe(seconds)
	m.AudioBytes.Observe(float64(audioBytes))
	m.RecognitionResults.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) ObserveFatal(stage string) {
	m.FatalErrors.WithLabelValues(stage).Inc()
}

// WriteTextfile writes every collector in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
