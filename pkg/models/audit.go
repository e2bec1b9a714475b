package models

import "time"

// AuditEntry represents a single served /query request.
type AuditEntry struct {
	RequestID      string    `json:"request_id"`
	IdentityKey    string    `json:"identity_key"`
	IdentityPrefix string    `json:"identity_prefix"`
	Query          string    `json:"query,omitempty"`
	Source         string    `json:"source"`
	ResponseBody   string    `json:"response_body,omitempty"`
	StatusCode     int       `json:"status_code"`
	ProviderErrors int       `json:"provider_errors"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	Include       []string `yaml:"include"` // "queries", "responses"
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Source         string
	Since          time.Time
	IdentityPrefix string
	RequestID      string
	Limit          int
}

// AuditStat holds aggregate audit counts for a source/day combination.
type AuditStat struct {
	Source string
	Day    string
	Count  int
}
