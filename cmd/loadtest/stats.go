package main

import (
	"math"
	"sort"
	"sync"
	"time"
)

// scenarioSeries хранит сквозные замеры сценария рядом с замерами отдельных запросов.
const scenarioSeries = "scenario"

type latencyStats struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type endpointStats struct {
	Requests  int64            `json:"requests"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	FailRatio float64          `json:"fail_ratio"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencyStats     `json:"latency_ms"`
}

type runReport struct {
	Mode       loadMode                 `json:"mode"`
	Target     string                   `json:"target"`
	StartedAt  time.Time                `json:"started_at"`
	Elapsed    float64                  `json:"elapsed_seconds"`
	Throughput float64                  `json:"scenarios_per_second"`
	Scenarios  endpointStats            `json:"scenarios"`
	Endpoints  map[string]endpointStats `json:"endpoints"`
}

type series struct {
	ok, failed int64
	statuses   map[string]int64
	millis     []float64
}

func (s *series) stats() endpointStats {
	statuses := make(map[string]int64, len(s.statuses))
	for status, n := range s.statuses {
		statuses[status] = n
	}
	total := s.ok + s.failed
	out := endpointStats{
		Requests:  total,
		OK:        s.ok,
		Failed:    s.failed,
		Statuses:  statuses,
		LatencyMs: summarizeLatency(s.millis),
	}
	if total > 0 {
		out.FailRatio = float64(s.failed) / float64(total)
	}
	return out
}

// recorder собирает замеры из всех горутин прогона.
type recorder struct {
	mu     sync.Mutex
	series map[string]*series
}

func newRecorder() *recorder {
	return &recorder{series: make(map[string]*series)}
}

// observe учитывает один запрос. status: HTTP-код или метка сбоя транспорта.
func (r *recorder) observe(name string, took time.Duration, status string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.series[name]
	if s == nil {
		s = &series{statuses: make(map[string]int64)}
		r.series[name] = s
	}
	if ok {
		s.ok++
	} else {
		s.failed++
	}
	s.statuses[status]++
	s.millis = append(s.millis, float64(took.Microseconds())/1000)
}

func (r *recorder) endpoint(name string) (endpointStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[name]
	if !ok {
		return endpointStats{}, false
	}
	return s.stats(), true
}

func (r *recorder) finish(opts options, started time.Time, elapsed time.Duration) runReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := runReport{
		Mode:      opts.mode,
		Target:    opts.target(),
		StartedAt: started.UTC(),
		Elapsed:   elapsed.Seconds(),
		Endpoints: make(map[string]endpointStats, len(r.series)),
	}
	for name, s := range r.series {
		if name == scenarioSeries {
			rep.Scenarios = s.stats()
			continue
		}
		rep.Endpoints[name] = s.stats()
	}
	if elapsed > 0 {
		rep.Throughput = float64(rep.Scenarios.Requests) / elapsed.Seconds()
	}
	return rep
}

func summarizeLatency(millis []float64) latencyStats {
	if len(millis) == 0 {
		return latencyStats{}
	}
	sorted := append([]float64(nil), millis...)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	return latencyStats{
		Min:  sorted[0],
		Mean: total / float64(len(sorted)),
		P50:  nearestRank(sorted, 50),
		P90:  nearestRank(sorted, 90),
		P99:  nearestRank(sorted, 99),
		Max:  sorted[len(sorted)-1],
	}
}

// nearestRank возвращает p-й перцентиль отсортированной выборки без интерполяции.
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
