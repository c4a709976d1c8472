package datastore

import (
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/labelous/labelsync/internal/logging"
)

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Image{}, &Annotation{}, &Polygon{}); err != nil {
		return err
	}

	if debug {
		logging.Debug("database connection initialized",
			"db_type", dbType, "connection", connectionInfo)
	}
	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      level,
		},
	)
}
