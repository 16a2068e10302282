package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning holds the bridge's runtime knobs, read from tuning.yaml.
type Tuning struct {
	TickRateHz    int `yaml:"tick_rate_hz"`
	MaxFrameBytes int `yaml:"max_frame_bytes"`
	// ClientQueue is the per-renderer outbound buffer, in frames. When it
	// is full the oldest frame is dropped.
	ClientQueue int `yaml:"client_queue"`

	FrameLog FrameLog `yaml:"frame_log"`
	IndexDB  IndexDB  `yaml:"index_db"`
}

type FrameLog struct {
	Enabled bool `yaml:"enabled"`
	// IncludeState stores the serialized AGENT_STATE bytes in each line.
	IncludeState bool `yaml:"include_state"`
}

type IndexDB struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

const (
	MaxTickRateHz    = 1000
	MaxMaxFrameBytes = 16 << 20
)

func Defaults() Tuning {
	return Tuning{
		TickRateHz:    30,
		MaxFrameBytes: 32 * 1024,
		ClientQueue:   8,
		FrameLog:      FrameLog{Enabled: true},
		IndexDB:       IndexDB{Enabled: true, Path: "index/bridge.sqlite"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.MaxFrameBytes == 0 {
		t.MaxFrameBytes = d.MaxFrameBytes
	}
	if t.ClientQueue == 0 {
		t.ClientQueue = d.ClientQueue
	}
	t.IndexDB.Path = strings.TrimSpace(t.IndexDB.Path)
	if t.IndexDB.Enabled && t.IndexDB.Path == "" {
		t.IndexDB.Path = d.IndexDB.Path
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz < 1 || t.TickRateHz > MaxTickRateHz {
		return fmt.Errorf("tick_rate_hz must be in [1,%d], got %d", MaxTickRateHz, t.TickRateHz)
	}
	// Smallest frame: type byte, empty id terminator, two counts.
	if t.MaxFrameBytes < 10 || t.MaxFrameBytes > MaxMaxFrameBytes {
		return fmt.Errorf("max_frame_bytes must be in [10,%d], got %d", MaxMaxFrameBytes, t.MaxFrameBytes)
	}
	if t.ClientQueue < 1 {
		return fmt.Errorf("client_queue must be >= 1, got %d", t.ClientQueue)
	}
	return nil
}
