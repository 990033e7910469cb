package database

import (
	"errors"
	"time"

	"github.com/caseus-app/caseus-backend/internal/cheese"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationTrimMilkOriginWhitespace = "2026-07-20_trim_milk_origin_whitespace"

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
		{name: migrationTrimMilkOriginWhitespace, apply: trimMilkOriginWhitespace},
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

// Early clients submitted origin strings with stray whitespace, which split
// the origin summary into duplicate rows.
func trimMilkOriginWhitespace(db *gorm.DB) error {
	return db.Model(&cheese.Cheese{}).
		Where("milk_origin <> trim(milk_origin)").
		Update("milk_origin", gorm.Expr("trim(milk_origin)")).Error
}
