package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/config"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/customizations"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/links"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/usernames"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to the configured database and brings the schema up to date.
func Open(settings config.DatabaseSettings, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db     *gorm.DB
		err    error
		target string
	)
	switch strings.ToLower(strings.TrimSpace(settings.Driver)) {
	case "", config.DatabaseDriverSQLite:
		db, err = OpenSQLite(settings.Path)
		target = settings.Path
	case config.DatabaseDriverPostgres:
		if strings.TrimSpace(settings.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required for postgres")
		}
		db, err = gorm.Open(postgres.Open(settings.DSN), &gorm.Config{})
		target = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	logger.Info("database initialized",
		zap.String("driver", settings.Driver),
		zap.String("target", target))
	return db, nil
}

// OpenSQLite opens a single-connection SQLite database at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every table and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&accounts.Identity{},
		&links.Link{},
		&usernames.Record{},
		&customizations.Customization{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
