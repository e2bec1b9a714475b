package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/agorai/agorai/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
		MaxBodySize:   1024,
		Include:       []string{"queries", "responses"},
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	l, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:      "req-001",
		IdentityKey:    "12ca17b49af2289436f303e0166030a21e525d266e209267433801a8fd4071a0",
		IdentityPrefix: "12ca17b4",
		Query:          "capital of france?",
		Source:         "api",
		ResponseBody:   `{"responses":[],"source":"api"}`,
		StatusCode:     200,
		ProviderErrors: 1,
		LatencyMs:      150,
		CreatedAt:      time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Source: "api"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.RequestID != "req-001" || e.ProviderErrors != 1 || e.Query != "capital of france?" {
		t.Errorf("unexpected entry: %+v", e)
	}

	entries, _ = l.Query(ctx, models.AuditQueryOpts{Source: "cache"})
	if len(entries) != 0 {
		t.Errorf("expected no cache entries, got %d", len(entries))
	}
}

func TestQueryByRequestIDAndPrefix(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1, got %d", len(entries))
	}

	entries, _ = l.Query(ctx, models.AuditQueryOpts{IdentityPrefix: "12ca17b4"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 by prefix, got %d", len(entries))
	}
	entries, _ = l.Query(ctx, models.AuditQueryOpts{IdentityPrefix: "ffffffff"})
	if len(entries) != 0 {
		t.Fatalf("expected 0 for other prefix, got %d", len(entries))
	}
}

func TestBodyTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Query = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Query) != 16 {
		t.Errorf("expected truncated query len 16, got %d", len(entries[0].Query))
	}
}

func TestIncludeFiltering(t *testing.T) {
	cfg := tempCfg(t)
	cfg.Include = nil
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].Query != "" {
		t.Errorf("expected empty query, got %q", entries[0].Query)
	}
	if entries[0].ResponseBody != "" {
		t.Errorf("expected empty response body, got %q", entries[0].ResponseBody)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)
	e3 := sampleEntry()
	e3.RequestID = "req-003"
	e3.Source = "cache"
	_ = l.Log(ctx, e3)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 source rows, got %d", len(stats))
	}
	if stats[0].Source != "api" || stats[0].Count != 2 {
		t.Errorf("expected api=2, got %+v", stats[0])
	}
	if stats[0].Day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("unexpected day %q", stats[0].Day)
	}
}

func TestLogAsyncDrainsOnClose(t *testing.T) {
	cfg := tempCfg(t)
	logger, _ := test.NewNullLogger()
	l, err := New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	l.LogAsync(sampleEntry())
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	l.LogAsync(sampleEntry()) // after close: dropped

	reopened := mustNew(t, cfg)
	entries, err := reopened.Query(context.Background(), models.AuditQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected pending write to be flushed, got %d entries", len(entries))
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
	l.LogAsync(sampleEntry())
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 4
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Query = "cafés à paris" // é spans bytes 3-4
	_ = l.Log(ctx, entry)
	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Query != "caf" {
		t.Errorf("unexpected truncation %q", entries[0].Query)
	}

	for _, tt := range []struct {
		in   string
		n    int
		want string
	}{
		{"café", 4, "caf"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
		{"short", 10, "short"},
	} {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
