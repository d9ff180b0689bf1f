package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Krishanhkr/SwiftHost/pkg/httpx"
)

// Registry collects gateway counters: per-endpoint latency/status stats,
// decision verdicts, denial reasons and point-in-time gauges.
type Registry struct {
	mu       sync.RWMutex
	endpoint map[string]*EndpointStat
	verdict  map[string]int64
	reason   map[string]int64
	gauges   map[string]float64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Verdicts    map[string]int64        `json:"verdicts"`
	Reasons     map[string]int64        `json:"reasons"`
	Gauges      map[string]float64      `json:"gauges"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint: map[string]*EndpointStat{},
		verdict:  map[string]int64{},
		reason:   map[string]int64{},
		gauges:   map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
	stat.LastStatusCode = status
}

// RecordDecision counts one pipeline verdict. Denials also count the reason
// code.
func (r *Registry) RecordDecision(allowed bool, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if allowed {
		r.verdict["allow"]++
	} else {
		r.verdict["deny"]++
		if code != "" {
			r.reason[code]++
		}
	}
}

func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Verdicts:    make(map[string]int64, len(r.verdict)),
		Reasons:     make(map[string]int64, len(r.reason)),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		snap.Endpoints[k] = *v
	}
	for k, v := range r.verdict {
		snap.Verdicts[k] = v
	}
	for k, v := range r.reason {
		snap.Reasons[k] = v
	}
	for k, v := range r.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

// Handler serves the JSON snapshot.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, 200, r.Snapshot())
	}
}

// PrometheusHandler renders counters and gauges in the Prometheus text
// exposition format.
func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		var b strings.Builder
		b.WriteString("# TYPE ztna_decisions_total counter\n")
		for _, k := range sortedKeys(snap.Verdicts) {
			fmt.Fprintf(&b, "ztna_decisions_total{verdict=%q} %d\n", k, snap.Verdicts[k])
		}
		b.WriteString("# TYPE ztna_denials_total counter\n")
		for _, k := range sortedKeys(snap.Reasons) {
			fmt.Fprintf(&b, "ztna_denials_total{code=%q} %d\n", k, snap.Reasons[k])
		}
		b.WriteString("# TYPE ztna_requests_total counter\n")
		endpoints := make([]string, 0, len(snap.Endpoints))
		for k := range snap.Endpoints {
			endpoints = append(endpoints, k)
		}
		sort.Strings(endpoints)
		for _, k := range endpoints {
			fmt.Fprintf(&b, "ztna_requests_total{endpoint=%q} %d\n", k, snap.Endpoints[k].Count)
		}
		b.WriteString("# TYPE ztna_gauge gauge\n")
		gauges := make([]string, 0, len(snap.Gauges))
		for k := range snap.Gauges {
			gauges = append(gauges, k)
		}
		sort.Strings(gauges)
		for _, k := range gauges {
			fmt.Fprintf(&b, "ztna_gauge{name=%q} %g\n", k, snap.Gauges[k])
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
