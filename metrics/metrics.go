// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package metrics exposes Prometheus counters for logins, token checks and
// transfer jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_logins_total",
		Help: "Total login attempts",
	}, []string{"service", "result"})

	tokenChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_token_checks_total",
		Help: "Total token checks",
	}, []string{"service", "valid"})

	jobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_jobs_submitted_total",
		Help: "Total transfer jobs submitted",
	}, []string{"parser"})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_jobs_finished_total",
		Help: "Total transfer jobs run to completion, by final status",
	}, []string{"status"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploader_job_duration_seconds",
		Help:    "Running time of transfer jobs in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploader_queue_length",
		Help: "Jobs waiting in the queue as last seen by a worker",
	})
)

// records a login attempt on a service
func RecordLogin(service string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	loginsTotal.WithLabelValues(service, result).Inc()
}

// records a token check
func RecordTokenCheck(service string, valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	tokenChecksTotal.WithLabelValues(service, label).Inc()
}

func RecordJobSubmitted(parser string) {
	jobsSubmittedTotal.WithLabelValues(parser).Inc()
}

// records a job that stopped running with the given status
func RecordJobFinished(status string, elapsed time.Duration) {
	jobsFinishedTotal.WithLabelValues(status).Inc()
	jobDuration.Observe(elapsed.Seconds())
}

func SetQueueLength(n int64) {
	queueLength.Set(float64(n))
}

// serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
