package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/links"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationTrimLinkURLs = "2026-04-02_trim_link_urls"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTrimLinkURLs, apply: trimLinkURLs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// trimLinkURLs rewrites stored titles and urls to the trimmed form that link
// writes produce, so rows inserted directly into the table match API-created ones.
func trimLinkURLs(db *gorm.DB) error {
	return db.Model(&links.Link{}).
		Where("url <> TRIM(url) OR title <> TRIM(title)").
		Updates(map[string]interface{}{
			"url":   gorm.Expr("TRIM(url)"),
			"title": gorm.Expr("TRIM(title)"),
		}).Error
}
