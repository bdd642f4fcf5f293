package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateIntervalOrdering(t *testing.T) {
	cfg := Default()
	cfg.Warmer.MinIntervalSeconds = 60
	cfg.Warmer.MaxIntervalSeconds = 30
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when min interval > max interval")
	}
}

func TestValidateReplyDelayRange(t *testing.T) {
	cfg := Default()
	cfg.Warmer.Reply.MaxDelaySeconds = 721
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for reply delay above 720")
	}
}

func TestValidateWorkingHours(t *testing.T) {
	cases := []struct {
		start, end string
		ok         bool
	}{
		{"09:00", "18:00", true},
		{"00:00", "23:59", true},
		{"18:00", "09:00", false},
		{"9am", "18:00", false},
		{"09:60", "18:00", false},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Warmer.WorkingHours = WorkingHours{Start: tc.start, End: tc.end}
		err := Validate(cfg)
		if tc.ok && err != nil {
			t.Errorf("%s-%s: unexpected error: %v", tc.start, tc.end, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s-%s: expected error", tc.start, tc.end)
		}
	}
}

func TestValidateTimezone(t *testing.T) {
	cfg := Default()
	cfg.Warmer.Timezone = "Mars/Olympus"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestParseHHMM(t *testing.T) {
	m, err := ParseHHMM("09:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m != 9*60+30 {
		t.Fatalf("got %d minutes, want %d", m, 9*60+30)
	}
	if _, err := ParseHHMM("24:00"); err == nil {
		t.Fatal("expected error for hour 24")
	}
}

func TestParseStrictRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"warmer":{"min_interval_secondz":15}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	m := NewManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Warmer.MinIntervalSeconds != 15 || cfg.Warmer.MaxIntervalSeconds != 45 {
		t.Fatalf("unexpected seeded intervals: %d/%d", cfg.Warmer.MinIntervalSeconds, cfg.Warmer.MaxIntervalSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not seeded: %v", err)
	}

	// Reload parses what was written.
	again, err := m.Parse()
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Warmer.Timezone != cfg.Warmer.Timezone {
		t.Fatal("roundtrip mismatch")
	}
}

func TestUpdateMergesPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	next, err := m.Update(context.Background(), []byte(`{"warmer":{"min_interval_seconds":20,"max_interval_seconds":40,"working_hours":{"start":"09:00","end":"18:00"},"reply":{"min_delay_seconds":30,"max_delay_seconds":60}}}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.Warmer.MinIntervalSeconds != 20 || next.Warmer.MaxIntervalSeconds != 40 {
		t.Fatalf("merge failed: %+v", next.Warmer)
	}
	// Untouched sections survive.
	if next.Server.Addr != "127.0.0.1:8380" {
		t.Fatalf("server section lost: %+v", next.Server)
	}
	// Persisted.
	onDisk, err := m.Parse()
	if err != nil {
		t.Fatalf("parse after update: %v", err)
	}
	if onDisk.Warmer.MinIntervalSeconds != 20 {
		t.Fatal("update not persisted")
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := m.Get()

	if _, err := m.Update(context.Background(), []byte(`{"warmer":{"min_interval_seconds":0}}`)); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Get() != before {
		t.Fatal("failed update must not replace current config")
	}
}

func TestUpdatePublishesToSubscribers(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "config.json"))
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if _, err := m.Update(context.Background(), []byte(`{"warmer":{"burst_limit":5}}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Warmer.BurstLimit != 5 {
			t.Fatalf("published stale config: %+v", cfg.Warmer)
		}
	default:
		t.Fatal("expected published config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := Default()
	newCfg := Default()
	newCfg.Warmer.BurstLimit = 9
	newCfg.Logging.Level = "DEBUG"

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "warmer": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}

func TestYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "warmer:\n" +
		"  min_interval_seconds: 10\n" +
		"  max_interval_seconds: 30\n" +
		"  working_hours:\n" +
		"    start: \"08:00\"\n" +
		"    end: \"17:00\"\n" +
		"  reply:\n" +
		"    min_delay_seconds: 30\n" +
		"    max_delay_seconds: 60\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if cfg.Warmer.MinIntervalSeconds != 10 || cfg.Warmer.WorkingHours.End != "17:00" {
		t.Fatalf("yaml coercion lost values: %+v", cfg.Warmer)
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"  ", 0, true},
		{"5m", 5 * time.Minute, true},
		{"1h30m", 90 * time.Minute, true},
		{"-5s", 0, false},
		{"5 minutes", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.ok != (err == nil) {
			t.Errorf("ParseDurationField(%q) err = %v", tc.raw, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "10s", time.Minute); err != nil || d != 10*time.Second {
		t.Fatalf("explicit value lost: %v %v", d, err)
	}
}
