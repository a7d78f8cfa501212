package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_http_requests_total",
		Help: "Requests served by the sandbox backend.",
	}, []string{"method", "route", "status"})

	cartMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_cart_mutations_total",
		Help: "Cart mutations applied by the sandbox backend.",
	}, []string{"kind"})
)
