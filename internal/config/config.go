package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Batch      BatchConfig      `yaml:"batch"`
	Parser     ParserConfig     `yaml:"parser"`
	Signals    SignalsConfig    `yaml:"signals"`
	Cohort     CohortConfig     `yaml:"cohort"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Sync       SyncConfig       `yaml:"sync"`
}

type ServerConfig struct {
	HTTPPort     int   `yaml:"http_port"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ParserConfig holds the detection thresholds of the semantic parser. Every
// heuristic the parser applies is tunable from here; the zero value of each
// field means "use the documented default".
type ParserConfig struct {
	RageClickCount     int     `yaml:"rage_click_count"`
	RageClickWindowMs  int64   `yaml:"rage_click_window_ms"`
	DeadClickWindowMs  int64   `yaml:"dead_click_window_ms"`
	ThrashClickCount   int     `yaml:"thrash_click_count"`
	ThrashWindowMs     int64   `yaml:"thrash_window_ms"`
	ThrashMinTargets   int     `yaml:"thrash_min_targets"`
	HoverMinMs         int64   `yaml:"hover_min_ms"`
	HesitationMs       int64   `yaml:"hesitation_ms"`
	RapidScrollPxSec   float64 `yaml:"rapid_scroll_px_sec"`
	ReversalWindowMs   int64   `yaml:"reversal_window_ms"`
	ScrollBurstGapMs   int64   `yaml:"scroll_burst_gap_ms"`
	HorizontalMinPx    int     `yaml:"horizontal_min_px"`
	IdleGapSeconds     int     `yaml:"idle_gap_seconds"`
	SlowRequestMs      int64   `yaml:"slow_request_ms"`
	SlowLoadMs         int64   `yaml:"slow_load_ms"`
	LongPressMs        int64   `yaml:"long_press_ms"`
	SwipeMinPx         int     `yaml:"swipe_min_px"`
	SwipeMaxMs         int64   `yaml:"swipe_max_ms"`
	CorrectionMinChars int     `yaml:"correction_min_chars"`
	MaxSelectedLogs    int     `yaml:"max_selected_logs"`
}

// SignalsConfig holds the thresholds behind the derived behavioral booleans.
type SignalsConfig struct {
	ConfusedHesitations  int `yaml:"confused_hesitations"`
	ConfusedReversals    int `yaml:"confused_reversals"`
	ExploringMinScrolls  int `yaml:"exploring_min_scrolls"`
	ExploringScrollRatio int `yaml:"exploring_scroll_ratio"`
	EngagedInteractions  int `yaml:"engaged_interactions"`
}

type CohortConfig struct {
	DropOffWindowMs    int64 `yaml:"drop_off_window_ms"`
	FastExitSeconds    int   `yaml:"fast_exit_seconds"`
	HighValueSessions  int   `yaml:"high_value_sessions"`
	LowEngagementLimit int   `yaml:"low_engagement_limit"`
}

type AnalyzerConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	MaxLogs int    `yaml:"max_logs"`
}

type SyncConfig struct {
	Schedule    string          `yaml:"schedule"`
	LookbackMin int             `yaml:"lookback_min"`
	PageLimit   int             `yaml:"page_limit"`
	Projects    []ProjectConfig `yaml:"projects"`
}

// ProjectConfig wires one customer project to the vendor it records with.
// VendorProjectID is the project reference on the vendor's side (PostHog
// project id, Mixpanel project id); Amplitude does not use one.
type ProjectConfig struct {
	ProjectID       string `yaml:"project_id"`
	Source          string `yaml:"source"`
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	VendorProjectID string `yaml:"vendor_project_id"`
	Schedule        string `yaml:"schedule"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero-valued tunable with its documented default.
// Exposed separately from Load so tests and embedded callers can start from a
// zero Config.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "sessionsieve-compressor"
	}
	if cfg.Kafka.Topics == nil {
		cfg.Kafka.Topics = map[string]string{}
	}
	if cfg.Kafka.Topics["raw"] == "" {
		cfg.Kafka.Topics["raw"] = "sessions.raw"
	}
	if cfg.Kafka.Topics["semantic"] == "" {
		cfg.Kafka.Topics["semantic"] = "sessions.semantic"
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 200
	}

	// Parser defaults
	if cfg.Parser.RageClickCount == 0 {
		cfg.Parser.RageClickCount = 5
	}
	if cfg.Parser.RageClickWindowMs == 0 {
		cfg.Parser.RageClickWindowMs = 2000
	}
	if cfg.Parser.DeadClickWindowMs == 0 {
		cfg.Parser.DeadClickWindowMs = 1000
	}
	if cfg.Parser.ThrashClickCount == 0 {
		cfg.Parser.ThrashClickCount = 4
	}
	if cfg.Parser.ThrashWindowMs == 0 {
		cfg.Parser.ThrashWindowMs = 1500
	}
	if cfg.Parser.ThrashMinTargets == 0 {
		cfg.Parser.ThrashMinTargets = 3
	}
	if cfg.Parser.HoverMinMs == 0 {
		cfg.Parser.HoverMinMs = 500
	}
	if cfg.Parser.HesitationMs == 0 {
		cfg.Parser.HesitationMs = 2000
	}
	if cfg.Parser.RapidScrollPxSec == 0 {
		cfg.Parser.RapidScrollPxSec = 2000
	}
	if cfg.Parser.ReversalWindowMs == 0 {
		cfg.Parser.ReversalWindowMs = 1500
	}
	if cfg.Parser.ScrollBurstGapMs == 0 {
		cfg.Parser.ScrollBurstGapMs = 1000
	}
	if cfg.Parser.HorizontalMinPx == 0 {
		cfg.Parser.HorizontalMinPx = 30
	}
	if cfg.Parser.IdleGapSeconds == 0 {
		cfg.Parser.IdleGapSeconds = 30
	}
	if cfg.Parser.SlowRequestMs == 0 {
		cfg.Parser.SlowRequestMs = 5000
	}
	if cfg.Parser.SlowLoadMs == 0 {
		cfg.Parser.SlowLoadMs = 3000
	}
	if cfg.Parser.LongPressMs == 0 {
		cfg.Parser.LongPressMs = 500
	}
	if cfg.Parser.SwipeMinPx == 0 {
		cfg.Parser.SwipeMinPx = 80
	}
	if cfg.Parser.SwipeMaxMs == 0 {
		cfg.Parser.SwipeMaxMs = 400
	}
	if cfg.Parser.CorrectionMinChars == 0 {
		cfg.Parser.CorrectionMinChars = 3
	}
	if cfg.Parser.MaxSelectedLogs == 0 {
		cfg.Parser.MaxSelectedLogs = 150
	}

	// Signal defaults
	if cfg.Signals.ConfusedHesitations == 0 {
		cfg.Signals.ConfusedHesitations = 3
	}
	if cfg.Signals.ConfusedReversals == 0 {
		cfg.Signals.ConfusedReversals = 3
	}
	if cfg.Signals.ExploringMinScrolls == 0 {
		cfg.Signals.ExploringMinScrolls = 10
	}
	if cfg.Signals.ExploringScrollRatio == 0 {
		cfg.Signals.ExploringScrollRatio = 3
	}
	if cfg.Signals.EngagedInteractions == 0 {
		cfg.Signals.EngagedInteractions = 5
	}

	// Cohort defaults
	if cfg.Cohort.DropOffWindowMs == 0 {
		cfg.Cohort.DropOffWindowMs = 10 * 60 * 1000
	}
	if cfg.Cohort.FastExitSeconds == 0 {
		cfg.Cohort.FastExitSeconds = 60
	}
	if cfg.Cohort.HighValueSessions == 0 {
		cfg.Cohort.HighValueSessions = 3
	}
	if cfg.Cohort.LowEngagementLimit == 0 {
		cfg.Cohort.LowEngagementLimit = 5
	}

	if cfg.Analyzer.Model == "" {
		cfg.Analyzer.Model = "gpt-4o-mini"
	}
	if cfg.Analyzer.MaxLogs == 0 {
		cfg.Analyzer.MaxLogs = 150
	}

	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = "@every 5m"
	}
	if cfg.Sync.LookbackMin == 0 {
		cfg.Sync.LookbackMin = 60
	}
	if cfg.Sync.PageLimit == 0 {
		cfg.Sync.PageLimit = 100
	}
}
