package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfquiz_login_attempts_total",
			Help: "Total number of name submissions",
		},
		[]string{"status"}, // status: new/returning/rejected
	)

	quizzesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "selfquiz_quizzes_started_total",
			Help: "Total number of quizzes started",
		},
	)

	quizzesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "selfquiz_quizzes_expired_total",
			Help: "Total number of quizzes whose countdown ran out",
		},
	)

	resultsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfquiz_results_recorded_total",
			Help: "Total number of results written to the local ledger",
		},
		[]string{"outcome"}, // outcome: passed/failed
	)

	remoteSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfquiz_remote_sync_failures_total",
			Help: "Total number of background remote writes that failed",
		},
		[]string{"op"},
	)
)
