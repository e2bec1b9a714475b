package main

import (
	"strings"
	"testing"
	"time"

	"github.com/agorai/agorai/pkg/config"
	"github.com/agorai/agorai/pkg/identity"
	"github.com/agorai/agorai/pkg/models"
	"github.com/sirupsen/logrus"
)

func TestIdentityKey(t *testing.T) {
	if identityKey("", "") != "" {
		t.Error("expected empty key")
	}
	if identityKey("127.0.0.1", "") != identity.Hash("127.0.0.1") {
		t.Error("expected hashed address")
	}
	if identityKey("127.0.0.1", "abc") != "abc" {
		t.Error("explicit key should win")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	log, err := newLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", log.Formatter)
	}

	cfg.LogLevel = "chatty"
	if _, err := newLogger(cfg); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFormatAuditEntries(t *testing.T) {
	if formatAuditEntries(nil) != "No audit entries found.\n" {
		t.Error("unexpected empty output")
	}
	out := formatAuditEntries([]models.AuditEntry{{
		RequestID: "req-1", IdentityPrefix: "12ca17b4", Source: "cache",
		StatusCode: 200, LatencyMs: 3, CreatedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}})
	for _, want := range []string{"REQUEST ID", "req-1", "12ca17b4", "cache", "2026-10-18 09:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatAuditStats(t *testing.T) {
	out := formatAuditStats([]models.AuditStat{{Source: "api", Day: "2026-10-18", Count: 7}})
	if !strings.Contains(out, "api") || !strings.Contains(out, "7") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
