package config

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/irrigationwx/pkg/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrZoneNotFound is returned when a named zone does not exist
var ErrZoneNotFound = errors.New("zone not found")

// Sections stored as JSON documents
const (
	sectionStore      = "store"
	sectionTimeseries = "timeseries"
	sectionJudge      = "judge"
	sectionBus        = "bus"
	sectionSchedule   = "schedule"
	sectionHTTP       = "http"
)

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens the database at dbPath and brings its schema up to date
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	return NewSQLiteProviderWithLogger(dbPath, nil)
}

// NewSQLiteProviderWithLogger is NewSQLiteProvider with migration logging
func NewSQLiteProviderWithLogger(dbPath string, logger *zap.SugaredLogger) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	m, err := migrate.NewMigrator(db, migrations, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := m.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate config database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	site, err := s.GetSite()
	if err != nil {
		return nil, fmt.Errorf("failed to load site: %w", err)
	}
	config.Site = *site

	zones, err := s.GetZones()
	if err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}
	config.Zones = zones

	sections := map[string]any{
		sectionStore:      &config.Store,
		sectionTimeseries: &config.Timeseries,
		sectionJudge:      &config.Judge,
		sectionBus:        &config.Bus,
		sectionSchedule:   &config.Schedule,
		sectionHTTP:       &config.HTTP,
	}
	for name, dst := range sections {
		if err := s.getSection(name, dst); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", name, err)
		}
	}

	return config, nil
}

// GetSite returns the site row. A database without one yields a zero
// SiteData so defaults can fill it.
func (s *SQLiteProvider) GetSite() (*SiteData, error) {
	query := `
		SELECT latitude, elevation_m, timezone, albedo, angstrom_a, angstrom_b, wind_sensor_height_m
		FROM site WHERE id = 1
	`

	var site SiteData
	var albedo, a, b, windHeight sql.NullFloat64
	err := s.db.QueryRow(query).Scan(
		&site.Latitude, &site.ElevationM, &site.Timezone,
		&albedo, &a, &b, &windHeight,
	)
	if err == sql.ErrNoRows {
		return &site, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query site: %w", err)
	}

	// Convert nullable fields to zero if NULL
	site.Albedo = albedo.Float64
	site.AngstromA = a.Float64
	site.AngstromB = b.Float64
	site.WindSensorHeightM = windHeight.Float64

	return &site, nil
}

// GetZones returns zone configurations from the database
func (s *SQLiteProvider) GetZones() ([]ZoneData, error) {
	rows, err := s.db.Query(`SELECT name, root_depth_m, awc_mm_per_m, switch FROM zones ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []ZoneData
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *zone)
	}
	return zones, rows.Err()
}

// GetZone returns a single zone by name
func (s *SQLiteProvider) GetZone(name string) (*ZoneData, error) {
	row := s.db.QueryRow(`SELECT name, root_depth_m, awc_mm_per_m, switch FROM zones WHERE name = ?`, name)
	zone, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, name)
	}
	return zone, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(row scanner) (*ZoneData, error) {
	var zone ZoneData
	var sw sql.NullString
	if err := row.Scan(&zone.Name, &zone.RootDepthM, &zone.AWCMMPerM, &sw); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan zone row: %w", err)
	}
	if sw.Valid {
		zone.Switch = sw.String
	}
	return &zone, nil
}

func (s *SQLiteProvider) getSection(name string, dst any) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sections WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dst)
}

// IsReadOnly returns false since SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Write methods for configuration management

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	// Start transaction
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear existing data
	if err := s.clearExistingConfig(tx); err != nil {
		return fmt.Errorf("failed to clear existing config: %w", err)
	}

	if err := s.insertSite(tx, &configData.Site); err != nil {
		return fmt.Errorf("failed to insert site: %w", err)
	}

	for _, zone := range configData.Zones {
		if err := s.insertZone(tx, &zone); err != nil {
			return fmt.Errorf("failed to insert zone %s: %w", zone.Name, err)
		}
	}

	sections := map[string]any{
		sectionStore:      configData.Store,
		sectionTimeseries: configData.Timeseries,
		sectionJudge:      configData.Judge,
		sectionBus:        configData.Bus,
		sectionSchedule:   configData.Schedule,
		sectionHTTP:       configData.HTTP,
	}
	for name, section := range sections {
		if err := s.insertSection(tx, name, section); err != nil {
			return fmt.Errorf("failed to insert %s config: %w", name, err)
		}
	}

	// Commit transaction
	return tx.Commit()
}

func (s *SQLiteProvider) clearExistingConfig(tx *sql.Tx) error {
	queries := []string{
		"DELETE FROM site",
		"DELETE FROM zones",
		"DELETE FROM sections",
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteProvider) insertSite(tx *sql.Tx, site *SiteData) error {
	query := `
		INSERT INTO site (
			id, latitude, elevation_m, timezone, albedo, angstrom_a, angstrom_b, wind_sensor_height_m
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		site.Latitude, site.ElevationM, site.Timezone,
		nullFloat64(site.Albedo), nullFloat64(site.AngstromA), nullFloat64(site.AngstromB),
		nullFloat64(site.WindSensorHeightM),
	)
	return err
}

func (s *SQLiteProvider) insertZone(tx *sql.Tx, zone *ZoneData) error {
	_, err := tx.Exec(
		`INSERT INTO zones (name, root_depth_m, awc_mm_per_m, switch) VALUES (?, ?, ?, ?)`,
		zone.Name, zone.RootDepthM, zone.AWCMMPerM, nullString(zone.Switch),
	)
	return err
}

func (s *SQLiteProvider) insertSection(tx *sql.Tx, name string, section any) error {
	data, err := json.Marshal(section)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO sections (name, data) VALUES (?, ?)`, name, string(data))
	return err
}

// Zone management methods

// AddZone adds a new zone
func (s *SQLiteProvider) AddZone(zone *ZoneData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertZone(tx, zone); err != nil {
		return fmt.Errorf("failed to insert zone %s: %w", zone.Name, err)
	}
	return tx.Commit()
}

// UpdateZone updates the zone called name
func (s *SQLiteProvider) UpdateZone(name string, zone *ZoneData) error {
	result, err := s.db.Exec(`
		UPDATE zones SET name = ?, root_depth_m = ?, awc_mm_per_m = ?, switch = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`,
		zone.Name, zone.RootDepthM, zone.AWCMMPerM, nullString(zone.Switch), name,
	)
	if err != nil {
		return fmt.Errorf("failed to update zone %s: %w", name, err)
	}
	return requireOneRow(result, name)
}

// DeleteZone removes the zone called name
func (s *SQLiteProvider) DeleteZone(name string) error {
	result, err := s.db.Exec(`DELETE FROM zones WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete zone %s: %w", name, err)
	}
	return requireOneRow(result, name)
}

func requireOneRow(result sql.Result, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, name)
	}
	return nil
}

// Helper functions for handling nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
