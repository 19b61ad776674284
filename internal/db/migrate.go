package db

import (
	"fmt"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model owned by the application store.
func AllModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.Map{},
		&models.Layer{},
		&models.LayerStyle{},
		&models.MapLayerStyle{},
		&models.PostgresConnection{},
		&models.Conversation{},
		&models.ChatMessage{},
		&models.ConversationLock{},
		&models.CancelFlag{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedProject upserts a project and its owner's first map, used by
// `farmane db seed` for local development.
func SeedProject(db *gorm.DB, project models.Project, m models.Map) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "title"}),
		}).Create(&project).Error; err != nil {
			return fmt.Errorf("db: seed project %q: %w", project.ID, err)
		}
		m.ProjectID = project.ID
		if m.OwnerID == "" {
			m.OwnerID = project.OwnerID
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_id", "owner_id", "title"}),
		}).Create(&m).Error; err != nil {
			return fmt.Errorf("db: seed map %q: %w", m.ID, err)
		}
		return nil
	})
}
