// Package tuning holds the operational knobs of the server, loaded
// from a YAML file so operators can adjust them without a rebuild.
package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// EventBudget caps puzzle propagation steps per player action.
	EventBudget int `yaml:"event_budget"`

	// IdleGraceSeconds keeps an empty realm resident before eviction.
	IdleGraceSeconds int `yaml:"idle_grace_seconds"`

	// ResumeGraceSeconds keeps a disconnected session resumable.
	ResumeGraceSeconds int `yaml:"resume_grace_seconds"`

	// OutboundBuffer is the per-session frame queue; overflow drops
	// the connection.
	OutboundBuffer int `yaml:"outbound_buffer"`

	AssetPullTimeoutSeconds int `yaml:"asset_pull_timeout_seconds"`
	AssetPullAttempts       int `yaml:"asset_pull_attempts"`

	// PeerAssetWaitMillis bounds how long a swarm fetch waits for the
	// first peer to answer.
	PeerAssetWaitMillis int `yaml:"peer_asset_wait_millis"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	// ClientPerSecond and ClientBurst shape inbound client frames.
	ClientPerSecond float64 `yaml:"client_per_second"`
	ClientBurst     int     `yaml:"client_burst"`
}

func Defaults() Tuning {
	return Tuning{
		EventBudget:             1024,
		IdleGraceSeconds:        120,
		ResumeGraceSeconds:      60,
		OutboundBuffer:          256,
		AssetPullTimeoutSeconds: 10,
		AssetPullAttempts:       3,
		PeerAssetWaitMillis:     2000,
		RateLimits: RateLimits{
			ClientPerSecond: 20,
			ClientBurst:     60,
		},
	}
}

// Load reads the file over the defaults. An empty path means pure
// defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.EventBudget <= 0 {
		return fmt.Errorf("event_budget must be positive")
	}
	if t.OutboundBuffer <= 0 {
		return fmt.Errorf("outbound_buffer must be positive")
	}
	if t.AssetPullTimeoutSeconds <= 0 || t.AssetPullAttempts <= 0 {
		return fmt.Errorf("asset pull timeout and attempts must be positive")
	}
	if t.RateLimits.ClientPerSecond <= 0 || t.RateLimits.ClientBurst <= 0 {
		return fmt.Errorf("client rate limits must be positive")
	}
	return nil
}

func (t Tuning) IdleGrace() time.Duration   { return time.Duration(t.IdleGraceSeconds) * time.Second }
func (t Tuning) ResumeGrace() time.Duration { return time.Duration(t.ResumeGraceSeconds) * time.Second }
func (t Tuning) AssetPullTimeout() time.Duration {
	return time.Duration(t.AssetPullTimeoutSeconds) * time.Second
}
func (t Tuning) PeerAssetWait() time.Duration {
	return time.Duration(t.PeerAssetWaitMillis) * time.Millisecond
}
