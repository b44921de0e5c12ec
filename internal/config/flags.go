package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "POKERASSIST_"

type flagValues struct {
	configPath string
	envFile    string

	source        string
	path          string
	device        string
	fps           uint
	cadence       uint
	players       int
	inferURL      string
	addr          string
	historyDriver string
	historyDSN    string
	mqttBroker    string
	debug         bool
}

// Load builds the configuration from, lowest to highest precedence: the
// defaults, the config file, POKERASSIST_* environment variables (a .env
// file is loaded first when present) and command line flags. It returns the
// config file path so callers can watch it.
func Load(args []string) (*Config, string, error) {
	var fv flagValues

	fs := flag.NewFlagSet("pokerassist", flag.ContinueOnError)
	fs.StringVar(&fv.configPath, "config", "", "Config file (.json, .yaml or .toml)")
	fs.StringVar(&fv.envFile, "env", ".env", "Dotenv file")
	fs.StringVar(&fv.source, "source", "", "Frame source (Local or Web-Camera)")
	fs.StringVar(&fv.path, "path", "", "Video file for the Local source")
	fs.StringVar(&fv.device, "device", "", "Camera device for the Web-Camera source")
	fs.UintVar(&fv.fps, "fps", 0, "Source frame rate")
	fs.UintVar(&fv.cadence, "cadence", 0, "Submit every Nth frame for scanning")
	fs.IntVar(&fv.players, "players", 0, "Players at the table")
	fs.StringVar(&fv.inferURL, "infer-url", "", "Inference server base URL")
	fs.StringVar(&fv.addr, "addr", "", "Control server listen address")
	fs.StringVar(&fv.historyDriver, "history-driver", "", "Capture history driver (sqlite or postgres)")
	fs.StringVar(&fv.historyDSN, "history-dsn", "", "Capture history DSN")
	fs.StringVar(&fv.mqttBroker, "mqtt-broker", "", "MQTT broker host:port")
	fs.BoolVar(&fv.debug, "debug", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	if err := godotenv.Load(fv.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("load %s: %w", fv.envFile, err)
	}

	path := fv.configPath
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, path, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.ActiveSource = SourceType(fv.source)
		case "path":
			cfg.Local.Path = fv.path
		case "device":
			cfg.Webcam.DeviceID = fv.device
		case "fps":
			cfg.TargetFPS = fv.fps
		case "cadence":
			cfg.Inference.CadenceDivisor = fv.cadence
		case "players":
			cfg.Players = fv.players
		case "infer-url":
			cfg.Inference.BaseURL = fv.inferURL
		case "addr":
			cfg.Server.Addr = fv.addr
		case "history-driver":
			cfg.History.Driver = fv.historyDriver
		case "history-dsn":
			cfg.History.DSN = fv.historyDSN
		case "mqtt-broker":
			cfg.MQTT.Broker = fv.mqttBroker
		case "debug":
			cfg.Debug = fv.debug
		}
	})
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	setString("INFER_URL", &c.Inference.BaseURL)
	setString("ADDR", &c.Server.Addr)
	setString("VIDEO_PATH", &c.Local.Path)
	setString("DEVICE", &c.Webcam.DeviceID)
	setString("HISTORY_DRIVER", &c.History.Driver)
	setString("HISTORY_DSN", &c.History.DSN)
	setString("MQTT_BROKER", &c.MQTT.Broker)

	if v := os.Getenv(envPrefix + "SOURCE"); v != "" {
		c.ActiveSource = SourceType(v)
	}
	if v := os.Getenv(envPrefix + "CADENCE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.New("invalid " + envPrefix + "CADENCE env variable")
		}
		c.Inference.CadenceDivisor = uint(n)
	}
	if v := os.Getenv(envPrefix + "PLAYERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid " + envPrefix + "PLAYERS env variable")
		}
		c.Players = n
	}
	if v := os.Getenv(envPrefix + "DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("invalid " + envPrefix + "DEBUG env variable")
		}
		c.Debug = b
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.ActiveSource {
	case SourceLocal, SourceWebcam:
	default:
		return fmt.Errorf("unknown source: %s", c.ActiveSource)
	}

	switch c.History.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown history driver: %s", c.History.Driver)
	}
	if c.History.Driver != "" && c.History.DSN == "" {
		return errors.New("history dsn required when a history driver is set")
	}

	if c.InputSize <= 0 {
		return errors.New("input size must be positive")
	}

	return nil
}
