package models

import "time"

// QuotaRecord is the per-identity daily counter.
type QuotaRecord struct {
	IdentityKey string    `json:"identity_key"`
	Count       int       `json:"count"`
	WindowDate  string    `json:"window_date"` // YYYY-MM-DD, UTC
	UpdatedAt   time.Time `json:"updated_at"`
}

// QuotaStatus shows current usage against the daily limit.
type QuotaStatus struct {
	IdentityKey string `json:"identity_key"`
	WindowDate  string `json:"window_date"`
	Used        int    `json:"used"`
	Limit       int    `json:"limit"`
	Remaining   int    `json:"remaining"`
}
