package database

import (
	"errors"
	"time"

	"github.com/prospectry/leadledger/internal/identity"
	"github.com/prospectry/leadledger/internal/lead"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRenormalizeProfileURLs = "2026-07-14_renormalize_profile_urls"

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
		{name: migrationRenormalizeProfileURLs, apply: renormalizeProfileURLs},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// renormalizeProfileURLs re-applies URL normalization to rows persisted
// before query strings and fragments were stripped. When two rows collapse
// to the same normalized reference, the older row wins and the younger
// duplicate is dropped, preserving the one-lead-per-reference invariant.
func renormalizeProfileURLs(db *gorm.DB) error {
	var rows []lead.Record
	if err := db.Order("created_at_s ASC").Find(&rows).Error; err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		normalized := identity.NormalizeProfileURL(row.ProfileURL)
		if _, duplicate := seen[normalized]; duplicate {
			if err := db.Where("lead_id = ?", row.ID).Delete(&lead.Record{}).Error; err != nil {
				return err
			}
			continue
		}
		seen[normalized] = struct{}{}
		if normalized == row.ProfileURL {
			continue
		}
		err := db.Model(&lead.Record{}).
			Where("lead_id = ?", row.ID).
			Update("profile_url", normalized).Error
		if err != nil {
			return err
		}
	}
	return nil
}
