package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "IRRIGATIONWX"

// Config backends
const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// EnvOverrides are deployment settings and secrets taken from the environment.
// Set values replace those from the provider.
type EnvOverrides struct {
	StoreBackend  string   `envconfig:"STORE_BACKEND"`
	RedisAddr     string   `envconfig:"REDIS_ADDR"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD"`
	PostgresDSN   string   `envconfig:"POSTGRES_DSN"`
	TimescaleDSN  string   `envconfig:"TIMESCALE_DSN"`
	JudgeEndpoint string   `envconfig:"JUDGE_ENDPOINT"`
	JudgeAPIKey   string   `envconfig:"JUDGE_API_KEY"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	ListenAddr    string   `envconfig:"LISTEN_ADDR"`
}

// NewProvider opens the configuration source for backend
func NewProvider(backend, path string) (ConfigProvider, error) {
	switch backend {
	case BackendYAML, "":
		return NewYAMLProvider(path), nil
	case BackendSQLite:
		return NewSQLiteProvider(path)
	default:
		return nil, fmt.Errorf("unknown config backend %q (use yaml or sqlite)", backend)
	}
}

// Load reads the configuration from provider, fills defaults, applies
// environment overrides (a .env file in the working directory is honoured)
// and validates the result.
func Load(provider ConfigProvider) (*ConfigData, error) {
	cfg, err := provider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	ApplyDefaults(cfg)

	// Absent .env is fine; existing variables are not overridden
	_ = godotenv.Load()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values
func ApplyDefaults(cfg *ConfigData) {
	s := &cfg.Site
	if s.Latitude == 0 && s.ElevationM == 0 {
		s.Latitude = 46.5668
		s.ElevationM = 1060
	}
	if s.Timezone == "" {
		s.Timezone = "Europe/Zurich"
	}
	if s.Albedo == 0 {
		s.Albedo = 0.23
	}
	if s.AngstromA == 0 && s.AngstromB == 0 {
		s.AngstromA, s.AngstromB = 0.25, 0.50
	}
	if s.WindSensorHeightM == 0 {
		s.WindSensorHeightM = 10
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreRedis
	}
	if cfg.Store.Backend == StoreRedis && cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.SweepInterval == 0 {
		cfg.Store.SweepInterval = time.Hour
	}

	if cfg.Timeseries.Measurement == "" {
		cfg.Timeseries.Measurement = "weather"
	}
	if cfg.Timeseries.CloudField == "" {
		cfg.Timeseries.CloudField = "cloudcover"
	}

	if cfg.Judge.Timeout == 0 {
		cfg.Judge.Timeout = 30 * time.Second
	}
	if cfg.Bus.GroupID == "" {
		cfg.Bus.GroupID = "irrigationwx"
	}
	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = "00:15"
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":9110"
	}
}

// ApplyEnv overlays IRRIGATIONWX_* environment variables onto cfg
func ApplyEnv(cfg *ConfigData) error {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment configuration: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Store.Backend, env.StoreBackend)
	set(&cfg.Store.Redis.Addr, env.RedisAddr)
	set(&cfg.Store.Redis.Password, env.RedisPassword)
	set(&cfg.Store.PostgresDSN, env.PostgresDSN)
	set(&cfg.Timeseries.ConnectionString, env.TimescaleDSN)
	set(&cfg.Judge.Endpoint, env.JudgeEndpoint)
	set(&cfg.Judge.APIKey, env.JudgeAPIKey)
	set(&cfg.HTTP.ListenAddr, env.ListenAddr)
	if len(env.KafkaBrokers) > 0 {
		cfg.Bus.Brokers = env.KafkaBrokers
	}
	return nil
}

// Validate checks cfg against its struct tags
func Validate(cfg *ConfigData) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Location returns the site's time zone
func (c *ConfigData) Location() (*time.Location, error) {
	return time.LoadLocation(c.Site.Timezone)
}

// DailyOffset returns Schedule.DailyAt as an offset from midnight
func (c *ConfigData) DailyOffset() (time.Duration, error) {
	h, m, ok := strings.Cut(c.Schedule.DailyAt, ":")
	if !ok {
		return 0, fmt.Errorf("daily_at %q is not HH:MM", c.Schedule.DailyAt)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("daily_at %q has an invalid hour", c.Schedule.DailyAt)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("daily_at %q has an invalid minute", c.Schedule.DailyAt)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// ZoneBySwitch maps zone valves to their zones
func (c *ConfigData) ZoneBySwitch() map[string]ZoneData {
	out := make(map[string]ZoneData)
	for _, z := range c.Zones {
		if z.Switch != "" {
			out[z.Switch] = z
		}
	}
	return out
}
