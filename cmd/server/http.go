package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hmibridge/internal/sim/embodiment"
	"hmibridge/internal/sim/objects"
)

type routes struct {
	emb      *embodiment.Embodiment
	objects  *objects.Manager
	ws       http.Handler
	gatherer prometheus.Gatherer
	// renderers reports connected renderer count for /healthz.
	renderers func() int
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		resp := struct {
			embodiment.Status
			Renderers int `json:"renderers"`
		}{Status: rt.emb.Status()}
		if rt.renderers != nil {
			resp.Renderers = rt.renderers()
		}
		writeJSON(rw, http.StatusOK, resp)
	})
	r.Get("/v1/objects", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, rt.objects.List())
	})
	r.Get("/v1/objects/{id}", func(rw http.ResponseWriter, r *http.Request) {
		o, ok := rt.objects.Lookup(chi.URLParam(r, "id"))
		if !ok {
			writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown object"})
			return
		}
		writeJSON(rw, http.StatusOK, objects.Snapshot{ID: o.ID(), Translation: o.Translation()})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	if rt.ws != nil {
		r.Handle("/v1/ws", rt.ws)
	}
	return r
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
