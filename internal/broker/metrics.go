package broker

import "github.com/prometheus/client_golang/prometheus"

var (
	framesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddeckd_broker_frames_in_total",
			Help: "Inbound socket frames by sender kind.",
		},
		[]string{"kind"},
	)
	framesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddeckd_broker_frames_out_total",
			Help: "Outbound socket frames by recipient kind.",
		},
		[]string{"kind"},
	)
	framesQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddeckd_broker_frames_queued_total",
			Help: "Frames queued for an identity that has not registered yet.",
		},
		[]string{"kind"},
	)
	framesUnauthorized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddeckd_broker_frames_unauthorized_total",
			Help: "Inbound frames dropped because the sender does not own the target.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(framesIn, framesOut, framesQueued, framesUnauthorized)
}
