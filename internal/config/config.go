// Package config loads genwatch settings from a YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Placeholder credentials shipped in sample configs; they are rejected by Validate.
const (
	PlaceholderBotToken = "YOUR_BOT_TOKEN_HERE"
	PlaceholderChatID   = "YOUR_CHAT_ID_HERE"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ROI is the rectangle watched by the detector, in frame pixels.
type ROI struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	// URL wins over the individual RTSP parts when set. It may also be an
	// http(s) JPEG snapshot endpoint or a local device path.
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	IP             string        `yaml:"ip"`
	Port           int           `yaml:"port"`
	StreamPath     string        `yaml:"stream_path"`
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	FPS            int           `yaml:"fps"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
}

// StreamURL returns the URL handed to the frame grabber.
func (c CameraConfig) StreamURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "rtsp",
		Host:   fmt.Sprintf("%s:%d", c.IP, c.Port),
		Path:   "/" + strings.TrimPrefix(c.StreamPath, "/"),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// Identity is a credential-free name for the camera, used in logs and messages.
func (c CameraConfig) Identity() string {
	if c.Name != "" {
		return c.Name
	}
	if c.IP != "" && c.URL == "" {
		return c.IP
	}
	u, err := url.Parse(c.StreamURL())
	if err != nil || u.Host == "" {
		return c.StreamURL()
	}
	return u.Host
}

// DetectionConfig parameterises the bright-spot detector.
type DetectionConfig struct {
	ROI             ROI `yaml:"roi"`
	BrightThreshold int `yaml:"bright_threshold"`
	MinBrightPixels int `yaml:"min_bright_pixels"`
}

// MonitorConfig controls the poll loop.
type MonitorConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	OnConfirmations  int           `yaml:"on_confirmations"`
	OffConfirmations int           `yaml:"off_confirmations"`
	SnapshotFolder   string        `yaml:"snapshot_folder"`
	WithStats        bool          `yaml:"with_stats"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	Commands bool   `yaml:"commands"`
	APIBase  string `yaml:"api_base"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Folder string `yaml:"folder"`
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
}

// HTTPConfig enables the admin API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// GRPCConfig enables the health service when Addr is set.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig enables state publishing to a broker when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// KafkaConfig enables state-change publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config is the full application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Storage   StorageConfig   `yaml:"storage"`
	Timezone  string          `yaml:"timezone"`
	Currency  string          `yaml:"currency"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			Port:           554,
			StreamPath:     "play1.sdp",
			ConnectTimeout: 15 * time.Second,
			StaleAfter:     15 * time.Second,
			FPS:            1,
			FFmpegPath:     "ffmpeg",
		},
		Detection: DetectionConfig{
			ROI:             ROI{X: 485, Y: 435, Width: 40, Height: 20},
			BrightThreshold: 190,
			MinBrightPixels: 50,
		},
		Monitor: MonitorConfig{
			CheckInterval:    5 * time.Second,
			ReconnectDelay:   30 * time.Second,
			ErrorBackoff:     10 * time.Second,
			OnConfirmations:  1,
			OffConfirmations: 2,
			SnapshotFolder:   "snapshots",
			WithStats:        true,
		},
		Telegram: TelegramConfig{
			Enabled:  true,
			Commands: true,
			APIBase:  "https://api.telegram.org",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "generator_monitor.db",
		},
		Timezone: "Europe/Kyiv",
		Currency: "UAH",
		Log: LogConfig{
			Folder: "logs",
			File:   "genwatch.log",
			Level:  "info",
		},
		MQTT: MQTTConfig{
			ClientID: "genwatch",
			Topic:    "genwatch/generator",
		},
		Kafka: KafkaConfig{
			Topic: "genwatch.state",
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when empty),
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GENWATCH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Camera.URL, "CAMERA_URL")
	setString(&cfg.Camera.Username, "CAMERA_USERNAME")
	setString(&cfg.Camera.Password, "CAMERA_PASSWORD")
	setString(&cfg.Camera.IP, "CAMERA_IP")
	setString(&cfg.Camera.StreamPath, "CAMERA_RTSP_URL")
	if err := setInt(&cfg.Camera.Port, "CAMERA_PORT"); err != nil {
		return err
	}

	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	setString(&cfg.Storage.Driver, "GENWATCH_DB_DRIVER")
	setString(&cfg.Storage.DSN, "GENWATCH_DB_DSN")
	setString(&cfg.Timezone, "GENWATCH_TIMEZONE")
	setString(&cfg.Currency, "GENWATCH_CURRENCY")
	setString(&cfg.Log.Folder, "GENWATCH_LOG_DIR")
	setString(&cfg.Log.Level, "GENWATCH_LOG_LEVEL")
	setString(&cfg.HTTP.Addr, "GENWATCH_HTTP_ADDR")
	setString(&cfg.GRPC.Addr, "GENWATCH_GRPC_ADDR")
	setString(&cfg.MQTT.Broker, "GENWATCH_MQTT_BROKER")
	if v := os.Getenv("GENWATCH_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}

	if err := setDuration(&cfg.Monitor.CheckInterval, "GENWATCH_CHECK_INTERVAL"); err != nil {
		return err
	}
	return setDuration(&cfg.Monitor.ReconnectDelay, "GENWATCH_RECONNECT_DELAY")
}

// Validate rejects configurations the monitor cannot start with.
func (c Config) Validate() error {
	var problems []string
	d := c.Detection
	if d.ROI.Width <= 0 || d.ROI.Height <= 0 {
		problems = append(problems, "ROI width and height must be positive")
	}
	if d.BrightThreshold < 0 || d.BrightThreshold > 255 {
		problems = append(problems, "brightness threshold must be between 0 and 255")
	}
	if d.MinBrightPixels < 0 {
		problems = append(problems, "min bright pixels must be non-negative")
	}

	if c.Camera.URL == "" && c.Camera.IP == "" {
		problems = append(problems, "camera url or ip is required")
	}

	m := c.Monitor
	if m.CheckInterval <= 0 {
		problems = append(problems, "check interval must be positive")
	}
	if m.ReconnectDelay <= 0 {
		problems = append(problems, "reconnect delay must be positive")
	}
	if m.ErrorBackoff < 0 {
		problems = append(problems, "error backoff must be non-negative")
	}
	if m.OnConfirmations < 1 || m.OffConfirmations < 1 {
		problems = append(problems, "confirmations must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" || c.Telegram.BotToken == PlaceholderBotToken {
			problems = append(problems, "telegram bot token not configured")
		}
		if c.Telegram.ChatID == "" || c.Telegram.ChatID == PlaceholderChatID {
			problems = append(problems, "telegram chat id not configured")
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "pgx":
	default:
		problems = append(problems, fmt.Sprintf("unsupported storage driver %q", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		problems = append(problems, "storage dsn is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("5s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
