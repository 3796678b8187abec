// Package migrations provides database migration management for the
// download engine.
package migrations

import (
	"github.com/jmylchreest/hlsfetch/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create job and job history tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Job{},
				&models.JobHistory{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{"job_history", "jobs"}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
