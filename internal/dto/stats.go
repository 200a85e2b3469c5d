package dto

import "time"

// AdminStatsResponse summarises platform volume for the admin dashboard.
type AdminStatsResponse struct {
	TotalPatients         int       `json:"total_patients"`
	TotalPhysiotherapists int       `json:"total_physiotherapists"`
	TotalCases            int       `json:"total_cases"`
	ActiveCases           int       `json:"active_cases"`
	ClosedCases           int       `json:"closed_cases"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// CityOption is a selectable serviceable city.
type CityOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SystemMetrics is a point-in-time snapshot of runtime counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
