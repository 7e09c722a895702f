package config

import "time"

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetSite() (*SiteData, error)
	GetZones() ([]ZoneData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Site       SiteData       `yaml:"site" json:"site"`
	Zones      []ZoneData     `yaml:"zones" json:"zones" validate:"required,min=1,unique=Name,dive"`
	Store      StoreData      `yaml:"store" json:"store"`
	Timeseries TimeseriesData `yaml:"timeseries" json:"timeseries"`
	Judge      JudgeData      `yaml:"judge,omitempty" json:"judge,omitempty"`
	Bus        BusData        `yaml:"bus,omitempty" json:"bus,omitempty"`
	Schedule   ScheduleData   `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	HTTP       HTTPData       `yaml:"http,omitempty" json:"http,omitempty"`
}

// SiteData holds the location constants of the ET₀ calculation
type SiteData struct {
	Latitude          float64 `yaml:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	ElevationM        float64 `yaml:"elevation_m" json:"elevation_m" validate:"gte=-500,lte=9000"`
	Timezone          string  `yaml:"timezone" json:"timezone" validate:"required,timezone"`
	Albedo            float64 `yaml:"albedo" json:"albedo" validate:"gte=0,lte=1"`
	AngstromA         float64 `yaml:"angstrom_a" json:"angstrom_a" validate:"gte=0,lte=1"`
	AngstromB         float64 `yaml:"angstrom_b" json:"angstrom_b" validate:"gte=0,lte=1"`
	WindSensorHeightM float64 `yaml:"wind_sensor_height_m" json:"wind_sensor_height_m" validate:"gt=0.1"`
}

// ZoneData describes one irrigation zone
type ZoneData struct {
	Name       string  `yaml:"name" json:"name" validate:"required"`
	RootDepthM float64 `yaml:"root_depth_m" json:"root_depth_m" validate:"gt=0,lte=5"`
	AWCMMPerM  float64 `yaml:"awc_mm_per_m" json:"awc_mm_per_m" validate:"gt=0,lte=400"`
	// Switch is the valve that waters only this zone
	Switch string `yaml:"switch,omitempty" json:"switch,omitempty"`
}

// Store backends
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// StoreData selects and configures the shared key-value store
type StoreData struct {
	Backend     string    `yaml:"backend" json:"backend" validate:"oneof=redis postgres memory"`
	Redis       RedisData `yaml:"redis,omitempty" json:"redis,omitempty"`
	PostgresDSN string    `yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty" validate:"required_if=Backend postgres"`
	// SweepInterval is how often expired rows are removed from the postgres store
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

type RedisData struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty" validate:"gte=0"`
}

// TimeseriesData points at the TimescaleDB table holding cloud cover
type TimeseriesData struct {
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Measurement      string `yaml:"measurement" json:"measurement" validate:"required"`
	CloudField       string `yaml:"cloud_field" json:"cloud_field" validate:"required"`
	Station          string `yaml:"station,omitempty" json:"station,omitempty"`
}

// JudgeData configures the language model endpoint. An empty endpoint
// disables the verdict pipeline.
type JudgeData struct {
	Endpoint     string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	Model        string        `yaml:"model,omitempty" json:"model,omitempty" validate:"required_with=Endpoint"`
	APIKey       string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	SystemPrompt string        `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	TemplatePath string        `yaml:"template_path,omitempty" json:"template_path,omitempty"`
}

// BusData configures the Kafka topic carrying switch events. No brokers
// disables the switch watcher.
type BusData struct {
	Brokers        []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic          string   `yaml:"topic,omitempty" json:"topic,omitempty" validate:"required_with=Brokers"`
	GroupID        string   `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	SourceSwitch   string   `yaml:"source_switch,omitempty" json:"source_switch,omitempty"`
	DefaultDepthMM float64  `yaml:"default_depth_mm,omitempty" json:"default_depth_mm,omitempty" validate:"gte=0"`
}

// ScheduleData says when the service runs its jobs
type ScheduleData struct {
	// DailyAt is the local wall-clock time of the daily run, HH:MM
	DailyAt         string        `yaml:"daily_at" json:"daily_at" validate:"datetime=15:04"`
	VerdictInterval time.Duration `yaml:"verdict_interval,omitempty" json:"verdict_interval,omitempty" validate:"gte=0"`
}

type HTTPData struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}
