package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusSource is the part of the queue the /status endpoint reports.
type statusSource interface {
	Len() int
	Cap() int
	Waiting() (producers, consumers int)
	Closed() bool
}

type queueStatus struct {
	Len             int  `json:"len"`
	Cap             int  `json:"cap"`
	ParkedProducers int  `json:"parked_producers"`
	ParkedConsumers int  `json:"parked_consumers"`
	Closed          bool `json:"closed"`
}

func newRouter(reg *prometheus.Registry, q statusSource) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		p, c := q.Waiting()
		st := queueStatus{
			Len:             q.Len(),
			Cap:             q.Cap(),
			ParkedProducers: p,
			ParkedConsumers: c,
			Closed:          q.Closed(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}).Methods(http.MethodGet)
	return r
}
