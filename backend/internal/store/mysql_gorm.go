package store

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitMySQL opens the shared connection and migrates the schema. The raw
// SQL stores ride the same *sql.DB via db.DB().
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&Document{},
		&OperationRecord{},
		&PresenceSnapshot{},
		&DocumentMember{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
