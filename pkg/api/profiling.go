package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/gorilla/mux"
)

// debugPrefix routes are excluded from request timing.
const debugPrefix = "/debug/"

func (s *Server) mountProfiling(r *mux.Router) {
	d := r.PathPrefix("/debug").Subrouter()

	d.HandleFunc("/pprof/", pprof.Index)
	d.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	d.HandleFunc("/pprof/profile", pprof.Profile)
	d.HandleFunc("/pprof/symbol", pprof.Symbol)
	d.HandleFunc("/pprof/trace", pprof.Trace)
	for _, name := range []string{"heap", "goroutine", "threadcreate", "block", "mutex", "allocs"} {
		d.Handle("/pprof/"+name, pprof.Handler(name))
	}

	d.HandleFunc("/runtime", s.handleRuntime).Methods(http.MethodGet)
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc":     ms.HeapAlloc,
		"heap_inuse":     ms.HeapInuse,
		"heap_objects":   ms.HeapObjects,
		"sys":            ms.Sys,
		"num_gc":         ms.NumGC,
		"gc_cpu_percent": ms.GCCPUFraction * 100,
		"timestamp":      time.Now(),
	})
}
