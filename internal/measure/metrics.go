package measure

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Target outcomes used as the "outcome" label.
const (
	OutcomeRecorded    = "recorded"
	OutcomeUnlocatable = "unlocatable"
	OutcomeUnreachable = "unreachable"
	OutcomeNoReply     = "no_reply"
)

type Metrics struct {
	targets        *prometheus.CounterVec
	lookups        *prometheus.CounterVec
	throttleWait   prometheus.Counter
	echoAttempts   prometheus.Counter
	echoReplies    prometheus.Counter
	echoLate       prometheus.Counter
	rtt            prometheus.Histogram
	distance       prometheus.Histogram
	lastRecordTime prometheus.Gauge
}

// NewMetrics registers the measurement metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rttdist_targets_total",
				Help: "Targets processed, by outcome",
			},
			[]string{"outcome"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rttdist_geolocation_lookups_total",
				Help: "Geolocation lookups, by result (success or failure reason)",
			},
			[]string{"result"},
		),
		throttleWait: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttdist_throttle_wait_seconds_total",
			Help: "Time spent waiting for the geolocation lookup budget",
		}),
		echoAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttdist_echo_attempts_total",
			Help: "ICMP echo requests sent",
		}),
		echoReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttdist_echo_replies_total",
			Help: "ICMP echo replies received before the timeout",
		}),
		echoLate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttdist_echo_late_replies_total",
			Help: "ICMP echo replies received after their attempt timed out",
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rttdist_rtt_milliseconds",
			Help:    "Round-trip time of individual echo replies in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rttdist_distance_kilometers",
			Help:    "Geodesic distance of recorded targets in kilometers",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 15000, 20000},
		}),
		lastRecordTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rttdist_last_record_timestamp",
			Help: "Unix time of the last recorded measurement",
		}),
	}

	reg.MustRegister(m.targets)
	reg.MustRegister(m.lookups)
	reg.MustRegister(m.throttleWait)
	reg.MustRegister(m.echoAttempts)
	reg.MustRegister(m.echoReplies)
	reg.MustRegister(m.echoLate)
	reg.MustRegister(m.rtt)
	reg.MustRegister(m.distance)
	reg.MustRegister(m.lastRecordTime)

	return m
}

func (m *Metrics) target(outcome string) {
	m.targets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) lookup(result string) {
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) throttled(d time.Duration) {
	m.throttleWait.Add(d.Seconds())
}

func (m *Metrics) probed(attempts, late uint, rtts []float64) {
	m.echoAttempts.Add(float64(attempts))
	m.echoLate.Add(float64(late))
	m.echoReplies.Add(float64(len(rtts)))
	for _, r := range rtts {
		m.rtt.Observe(r)
	}
}

func (m *Metrics) recorded(distance float64, at time.Time) {
	m.distance.Observe(distance)
	m.lastRecordTime.Set(float64(at.Unix()))
}
