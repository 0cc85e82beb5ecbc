package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"timesync": {
			"enabled": true,
			"server": "pool.example.org",
			"update_interval": "2h",
			"retry_min": "1s",
			"retry_max": "30s"
		},
		"netmon": {"enabled": true},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"enabled": false}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Timesync.Enabled || cfg.Timesync.Server != "pool.example.org" {
		t.Fatalf("timesync = %+v", cfg.Timesync)
	}
	if cfg.Timesync.RetryMax != "30s" {
		t.Fatalf("retry_max = %q, want 30s", cfg.Timesync.RetryMax)
	}
	if cfg.Storage != nil {
		t.Fatalf("storage = %+v, want nil when omitted", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
timesync:
  enabled: true
  server: pool.example.org
  retry_min: 500ms
netmon:
  enabled: true
  poll_interval: 3s
logging:
  level: info
  console: true
  file:
    enabled: true
    path: /var/log/timesyncd.log
scheduler:
  enabled: true
  timezone: UTC
storage:
  driver: file
  path: ./history
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timesync.RetryMin != "500ms" {
		t.Fatalf("retry_min = %q, want 500ms", cfg.Timesync.RetryMin)
	}
	if cfg.Netmon.PollInterval != "3s" {
		t.Fatalf("poll_interval = %q, want 3s", cfg.Netmon.PollInterval)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC", cfg.Scheduler.Timezone)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timesync": {"enabled": true, "serverr": "oops"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}

	path = writeConfig(t, "config.yaml", "timesync:\n  enabled: true\n  serverr: oops\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown yaml field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timesync": {"enabled": false}} {"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timesync": {"enabled": false}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timesync": {"enabled": false}}`)
	m := NewManager(path)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the config")
	}

	// Full buffer: the pending config is replaced, not blocked on.
	m.publish(&Config{})
	newest := &Config{}
	m.publish(newest)
	select {
	case got := <-ch:
		if got != newest {
			t.Fatal("subscriber should see the newest pending config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the newest config")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"10s", 10 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-5s", 0, true},
		{"ten seconds", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr != (err != nil) {
			t.Errorf("%q: err = %v, wantErr = %v", tc.raw, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("test.field", "", 42*time.Second); err != nil || d != 42*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("test.field", "5s", 42*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("explicit: got %v, %v", d, err)
	}
}
