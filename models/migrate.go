package models

import "gorm.io/gorm"

// Migrate creates or updates every table this system owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Player{},
		&MatchConfig{},
		&MatchInstance{},
		&Match{},
		&MatchPlayer{},
	)
}
