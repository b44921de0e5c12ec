package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type SourceType string

const (
	SourceLocal  SourceType = "Local"
	SourceWebcam SourceType = "Web-Camera"

	DefaultConfigPath   string = "config.json"
	DefaultInferenceURL string = "http://localhost:8000"
	DefaultServerAddr   string = "127.0.0.1:8080"
)

var SourcesList = [...]string{
	string(SourceLocal),
	string(SourceWebcam),
}

type LocalConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

type WebcamConfig struct {
	DeviceID string `json:"device_id" yaml:"device_id" toml:"device_id"`
}

type InferenceConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" toml:"base_url"`
	TimeoutMs      int    `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	JPEGQuality    int    `json:"jpeg_quality" yaml:"jpeg_quality" toml:"jpeg_quality"`
	CadenceDivisor uint   `json:"cadence_divisor" yaml:"cadence_divisor" toml:"cadence_divisor"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

type HistoryConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"` // sqlite or postgres, empty disables
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" toml:"broker"` // host:port, empty disables
	ClientID string `json:"client_id" yaml:"client_id" toml:"client_id"`
	Topic    string `json:"topic" yaml:"topic" toml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos" toml:"qos"`
}

type Config struct {
	mu sync.RWMutex

	ActiveSource SourceType `json:"active_source" yaml:"active_source" toml:"active_source"`
	TargetFPS    uint       `json:"target_fps" yaml:"target_fps" toml:"target_fps"`
	ScaledWidth  int        `json:"scaled_width" yaml:"scaled_width" toml:"scaled_width"`
	ScaledHeight int        `json:"scaled_height" yaml:"scaled_height" toml:"scaled_height"`
	InputSize    int        `json:"input_size" yaml:"input_size" toml:"input_size"`
	Players      int        `json:"players" yaml:"players" toml:"players"`
	Debug        bool       `json:"debug" yaml:"debug" toml:"debug"`

	Local     LocalConfig     `json:"local" yaml:"local" toml:"local"`
	Webcam    WebcamConfig    `json:"webcam" yaml:"webcam" toml:"webcam"`
	Inference InferenceConfig `json:"inference" yaml:"inference" toml:"inference"`
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	History   HistoryConfig   `json:"history" yaml:"history" toml:"history"`
	MQTT      MQTTConfig      `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TargetFPS
}

func (c *Config) SetFPS(fps uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TargetFPS = fps
}

func (c *Config) GetWidth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledWidth
}

func (c *Config) GetHeight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledHeight
}

func (c *Config) GetInputSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.InputSize
}

func (c *Config) GetCadence() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Inference.CadenceDivisor
}

func (c *Config) SetCadence(divisor uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Inference.CadenceDivisor = divisor
}

func (c *Config) GetPlayers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Players
}

func (c *Config) SetPlayers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Players = n
}

func (c *Config) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

func (c *Config) GetTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Inference.TimeoutMs) * time.Millisecond
}

// ApplyRuntime copies the fields that may change while a session runs.
func (c *Config) ApplyRuntime(from *Config) {
	from.mu.RLock()
	cadence, players, debug := from.Inference.CadenceDivisor, from.Players, from.Debug
	from.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Inference.CadenceDivisor = cadence
	c.Players = players
	c.Debug = debug
}

func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := marshal(c, filepath.Ext(path))
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) SaveByDefault() error {
	return c.Save(DefaultConfigPath)
}

// LoadConfigFile reads path over the defaults. A missing file yields the
// defaults; a broken one yields the defaults and the parse error.
func LoadConfigFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	parsed := NewDefaultConfig()
	if err := unmarshal(data, filepath.Ext(path), parsed); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	parsed.normalize()

	return parsed, nil
}

func NewDefaultConfig() *Config {
	return &Config{
		ActiveSource: SourceLocal,
		Local:        LocalConfig{Path: "..."},
		Webcam:       WebcamConfig{DeviceID: "/dev/video0"},
		TargetFPS:    20,
		ScaledWidth:  720,
		ScaledHeight: 1280,
		InputSize:    720,
		Players:      2,
		Inference: InferenceConfig{
			BaseURL:        DefaultInferenceURL,
			TimeoutMs:      5000,
			JPEGQuality:    70,
			CadenceDivisor: 2,
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
		MQTT:   MQTTConfig{ClientID: "pokerassist", Topic: "pokerassist/table"},
	}
}

func (c *Config) normalize() {
	if c.Inference.CadenceDivisor < 1 {
		c.Inference.CadenceDivisor = 1
	}
	if c.Players < 1 {
		c.Players = 1
	}
	if c.Inference.TimeoutMs <= 0 {
		c.Inference.TimeoutMs = 5000
	}
}

func marshal(c *Config, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(c, "", "  ")
	}
}

func unmarshal(data []byte, ext string, c *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".toml":
		_, err := toml.Decode(string(data), c)
		return err
	default:
		return json.Unmarshal(data, c)
	}
}
