package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	if err := d.validate(); err != nil {
		t.Fatal(err)
	}
	if d.AssetPullTimeout() != 10*time.Second || d.AssetPullAttempts != 3 {
		t.Fatalf("asset pull defaults = %v x %d", d.AssetPullTimeout(), d.AssetPullAttempts)
	}
}

func TestLoadEmptyPathGivesDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got != Defaults() {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "event_budget: 64\nrate_limits:\n  client_per_second: 5\n  client_burst: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventBudget != 64 {
		t.Fatalf("event budget = %d", got.EventBudget)
	}
	if got.RateLimits.ClientPerSecond != 5 || got.RateLimits.ClientBurst != 10 {
		t.Fatalf("rate limits = %+v", got.RateLimits)
	}
	// Untouched fields keep their defaults.
	if got.OutboundBuffer != Defaults().OutboundBuffer {
		t.Fatalf("outbound buffer = %d", got.OutboundBuffer)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("event_budget: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("negative budget accepted")
	}
}
