package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

const dependencyTimeout = time.Second

// dependency is one readiness probe. A failing critical dependency takes the
// instance out of rotation; any other failure only degrades it.
type dependency struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

// NewHealthHandler probes postgres (critical) and redis. Redis backs the
// selection lock and the gate cache, both of which have a database fallback.
func NewHealthHandler(pg Pinger, rdb *redis.Client, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}
	if pg != nil {
		h.deps = append(h.deps, dependency{name: "postgres", critical: true, ping: pg.Ping})
	}
	if rdb != nil {
		h.deps = append(h.deps, dependency{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Version: h.version, Env: h.env})
}

// Readiness probes every dependency in parallel.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	failed := make([]bool, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
			defer cancel()
			failed[i] = d.ping(ctx) != nil
		}()
	}
	wg.Wait()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]string, len(h.deps)),
	}
	code := http.StatusOK
	for i, d := range h.deps {
		if !failed[i] {
			resp.Dependencies[d.name] = "ok"
			continue
		}
		resp.Dependencies[d.name] = "down"
		switch {
		case d.critical:
			resp.Status, code = "error", http.StatusServiceUnavailable
		case resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	writeJSON(w, code, resp)
}
