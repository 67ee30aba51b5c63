package models

import "time"

// SystemMetrics is a lightweight snapshot of in-process counters.
type SystemMetrics struct {
	CacheHitRatio            float64                     `json:"cache_hit_ratio"`
	CacheHits                uint64                      `json:"cache_hits"`
	CacheMisses              uint64                      `json:"cache_misses"`
	RequestsTotal            uint64                      `json:"requests_total"`
	AverageRequestDurationMs float64                     `json:"average_request_duration_ms"`
	Admissions               map[AdmissionOutcome]uint64 `json:"admissions"`
	Promotions               uint64                      `json:"promotions"`
	CapacityConflicts        uint64                      `json:"capacity_conflicts"`
	TxRetries                uint64                      `json:"tx_retries"`
	Goroutines               int                         `json:"goroutines"`
	GeneratedAt              time.Time                   `json:"generated_at"`
}
