package services

import "github.com/prometheus/client_golang/prometheus"

var (
	draftSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_saves_total",
			Help: "Draft save attempts by resolver outcome.",
		},
		[]string{"outcome"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Final submission attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(draftSaves, submissions)
}
