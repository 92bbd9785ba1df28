package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// Manager holds the current session configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// Callback when config changes (for applying to a live session)
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager seeded with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Bind makes config changes resize cam immediately.
func (m *Manager) Bind(cam *Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OnConfigChange = func(cfg Config) error {
		cfg.Apply(cam)
		return nil
	}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and stores cfg, then runs OnConfigChange.
func (m *Manager) SetConfig(cfg Config) error {
	if errors := cfg.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values, plus an optional "preset" that is
// applied first.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()

	if presetName, ok := params["preset"].(string); ok {
		preset := GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		// Presets only carry sizing; keep the device selection.
		cfg.Width, cfg.Height = preset.Width, preset.Height
	}

	for key, value := range params {
		switch key {
		case "preset":
		case "width":
			v, ok := toInt(value)
			if !ok {
				return fmt.Errorf("width: expected a whole number, got %v", value)
			}
			cfg.Width = v
		case "height":
			v, ok := toInt(value)
			if !ok {
				return fmt.Errorf("height: expected a whole number, got %v", value)
			}
			cfg.Height = v
		case "read_timeout_ms":
			v, ok := toInt(value)
			if !ok {
				return fmt.Errorf("read_timeout_ms: expected a whole number, got %v", value)
			}
			cfg.ReadTimeoutMs = v
		case "stream_interval_ms":
			v, ok := toInt(value)
			if !ok {
				return fmt.Errorf("stream_interval_ms: expected a whole number, got %v", value)
			}
			cfg.StreamIntervalMs = v
		default:
			return fmt.Errorf("unknown or read-only field: %s", key)
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a map for JSON serialization.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	cfg := m.GetConfig()

	data, _ := json.Marshal(cfg)
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)

	return result
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		// JSON numbers decode as float64; only whole values are accepted
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt32 {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
