package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailpilot/mailpilot/internal/model"
)

var (
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_deliveries_total",
		Help: "Total number of delivery log records written, by status",
	}, []string{"status"})
	BatchConnectFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailpilot_batch_connect_failures_total",
		Help: "Total number of batches whose SMTP session could not be opened",
	})
	JobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailpilot_jobs_started_total",
		Help: "Total number of send jobs started",
	})
	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_jobs_finished_total",
		Help: "Total number of send jobs that reached a terminal phase",
	}, []string{"phase"})
	JobRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailpilot_job_running",
		Help: "1 while a send job is running",
	})
	// JobRecipients mirrors the progress counters of the current job
	JobRecipients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mailpilot_job_recipients",
		Help: "Recipient counters of the current or last send job",
	}, []string{"state"})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_http_requests_total",
		Help: "Total number of control API requests",
	}, []string{"method", "code"})
	HTTPPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailpilot_http_panics_total",
		Help: "Total number of control API handlers that panicked",
	})
)

func init() {
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(BatchConnectFailures)
	prometheus.MustRegister(JobsStarted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobRunning)
	prometheus.MustRegister(JobRecipients)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPPanics)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP counts one control API request
func ObserveHTTP(method string, status int) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Recorder feeds scheduler and job state events into the collectors
type Recorder struct{}

// DeliveryRecorded counts one delivery log record
func (Recorder) DeliveryRecorded(status model.DeliveryStatus) {
	Deliveries.WithLabelValues(string(status)).Inc()
}

// BatchConnectFailed counts one batch lost to a connection failure
func (Recorder) BatchConnectFailed() {
	BatchConnectFailures.Inc()
}

// ObserveState updates the job gauges from a state snapshot
func (Recorder) ObserveState(s model.JobState) {
	if s.Running {
		JobRunning.Set(1)
	} else {
		JobRunning.Set(0)
	}
	JobRecipients.WithLabelValues("total").Set(float64(s.Total))
	JobRecipients.WithLabelValues("current").Set(float64(s.Current))
	JobRecipients.WithLabelValues("sent").Set(float64(s.Sent))
	JobRecipients.WithLabelValues("failed").Set(float64(s.Failed))
}

// JobStarted counts a job start
func (Recorder) JobStarted() {
	JobsStarted.Inc()
}

// JobFinished counts a job reaching phase
func (Recorder) JobFinished(phase model.JobPhase) {
	JobsFinished.WithLabelValues(string(phase)).Inc()
}
