package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_token_refresh_total",
		Help: "Token refresh attempts by outcome",
	}, []string{"outcome"})

	refreshJoinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_token_refresh_joined_total",
		Help: "Callers that joined an already pending refresh",
	})
)
