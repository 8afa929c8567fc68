package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const minJWTSecretLength = 32

// scheduleParser accepts what cron.New() accepts: five fields or a descriptor such as "@every 10s".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds the control point configuration.
type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// CallbackBaseURL is the externally reachable base devices send NOTIFY to,
	// e.g. http://192.168.1.20:9000. Empty means derive it from the outbound address.
	CallbackBaseURL string   `yaml:"callback_base_url"`
	DeviceURLs      []string `yaml:"device_urls"`

	DescriptionTimeoutMs int    `yaml:"description_timeout_ms"`
	ControlTimeoutMs     int    `yaml:"control_timeout_ms"`
	PollSchedule         string `yaml:"poll_schedule"`

	BacklogSize          int    `yaml:"backlog_size"`
	BacklogTTLSeconds    int    `yaml:"backlog_ttl_seconds"`
	BacklogSweepSchedule string `yaml:"backlog_sweep_schedule"`

	SQLiteDBPath         string `yaml:"sqlite_db_path"`
	JournalRetentionDays int    `yaml:"journal_retention_days"`
	JournalPruneSchedule string `yaml:"journal_prune_schedule"`

	JWTSecret               string `yaml:"jwt_secret"`
	JWTAccessTokenExpirySec int    `yaml:"jwt_access_token_expiry"`

	// MQTT sink, disabled when the broker URL is empty.
	MQTTBrokerURL   string `yaml:"mqtt_broker_url"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`

	// InfluxDB sink, disabled when the URL is empty.
	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`
}

func defaultConfig() Config {
	return Config{
		Host:                    "0.0.0.0",
		Port:                    "9000",
		DeviceURLs:              []string{},
		DescriptionTimeoutMs:    10000,
		ControlTimeoutMs:        5000,
		PollSchedule:            "@every 10s",
		BacklogSize:             64,
		BacklogTTLSeconds:       30,
		BacklogSweepSchedule:    "@every 30s",
		SQLiteDBPath:            "./data/upnp-control.db",
		JournalRetentionDays:    7,
		JournalPruneSchedule:    "@hourly",
		JWTAccessTokenExpirySec: 3600,
		MQTTClientID:            "upnp-control",
		MQTTTopicPrefix:         "upnp",
		InfluxBucket:            "upnp",
	}
}

// Load reads the optional YAML file named by UPNP_CONFIG_FILE, then applies
// environment variables on top of it.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("UPNP_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envString("PORT", cfg.Port)
	cfg.CallbackBaseURL = strings.TrimRight(envString("CALLBACK_BASE_URL", cfg.CallbackBaseURL), "/")
	cfg.DeviceURLs = envCSV("DEVICE_URLS", cfg.DeviceURLs)
	cfg.DescriptionTimeoutMs = envInt("DESCRIPTION_TIMEOUT_MS", cfg.DescriptionTimeoutMs)
	cfg.ControlTimeoutMs = envInt("CONTROL_TIMEOUT_MS", cfg.ControlTimeoutMs)
	cfg.PollSchedule = envString("POLL_SCHEDULE", cfg.PollSchedule)
	cfg.BacklogSize = envInt("BACKLOG_SIZE", cfg.BacklogSize)
	cfg.BacklogTTLSeconds = envInt("BACKLOG_TTL_SECONDS", cfg.BacklogTTLSeconds)
	cfg.BacklogSweepSchedule = envString("BACKLOG_SWEEP_SCHEDULE", cfg.BacklogSweepSchedule)
	cfg.SQLiteDBPath = envString("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.JournalRetentionDays = envInt("JOURNAL_RETENTION_DAYS", cfg.JournalRetentionDays)
	cfg.JournalPruneSchedule = envString("JOURNAL_PRUNE_SCHEDULE", cfg.JournalPruneSchedule)
	cfg.JWTSecret = envString("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAccessTokenExpirySec = envInt("JWT_ACCESS_TOKEN_EXPIRY", cfg.JWTAccessTokenExpirySec)
	cfg.MQTTBrokerURL = envString("MQTT_BROKER_URL", cfg.MQTTBrokerURL)
	cfg.MQTTClientID = envString("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.MQTTUsername = envString("MQTT_USERNAME", cfg.MQTTUsername)
	cfg.MQTTPassword = envString("MQTT_PASSWORD", cfg.MQTTPassword)
	cfg.MQTTTopicPrefix = envString("MQTT_TOPIC_PREFIX", cfg.MQTTTopicPrefix)
	cfg.InfluxURL = envString("INFLUX_URL", cfg.InfluxURL)
	cfg.InfluxToken = envString("INFLUX_TOKEN", cfg.InfluxToken)
	cfg.InfluxOrg = envString("INFLUX_ORG", cfg.InfluxOrg)
	cfg.InfluxBucket = envString("INFLUX_BUCKET", cfg.InfluxBucket)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []string

	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, "PORT must be numeric")
	}
	if c.DescriptionTimeoutMs <= 0 {
		errs = append(errs, "DESCRIPTION_TIMEOUT_MS must be positive")
	}
	if c.ControlTimeoutMs <= 0 {
		errs = append(errs, "CONTROL_TIMEOUT_MS must be positive")
	}
	if c.BacklogSize <= 0 {
		errs = append(errs, "BACKLOG_SIZE must be positive")
	}
	if c.BacklogTTLSeconds <= 0 {
		errs = append(errs, "BACKLOG_TTL_SECONDS must be positive")
	}
	for _, schedule := range []struct{ key, value string }{
		{"POLL_SCHEDULE", c.PollSchedule},
		{"BACKLOG_SWEEP_SCHEDULE", c.BacklogSweepSchedule},
		{"JOURNAL_PRUNE_SCHEDULE", c.JournalPruneSchedule},
	} {
		if _, err := scheduleParser.Parse(schedule.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid schedule: %v", schedule.key, err))
		}
	}
	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLITE_DB_PATH is required")
	}
	// Auth is optional; a configured secret must still be strong.
	if c.JWTSecret != "" && len(strings.TrimSpace(c.JWTSecret)) < minJWTSecretLength {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}
	if c.InfluxURL != "" && c.InfluxOrg == "" {
		errs = append(errs, "INFLUX_ORG is required when INFLUX_URL is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthEnabled reports whether /v1 routes require a bearer token.
func (c Config) AuthEnabled() bool { return c.JWTSecret != "" }

// DescriptionTimeout returns the description fetch timeout.
func (c Config) DescriptionTimeout() time.Duration {
	return time.Duration(c.DescriptionTimeoutMs) * time.Millisecond
}

// ControlTimeout returns the SOAP and GENA request timeout.
func (c Config) ControlTimeout() time.Duration {
	return time.Duration(c.ControlTimeoutMs) * time.Millisecond
}

// BacklogTTL returns how long unclaimed notifications are held.
func (c Config) BacklogTTL() time.Duration {
	return time.Duration(c.BacklogTTLSeconds) * time.Second
}

// JournalRetention returns how long journal entries are kept; zero keeps them forever.
func (c Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionDays) * 24 * time.Hour
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envCSV(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
