package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/labelous/labelsync/internal/conf"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	if settings.Output.MySQL.Host == "" || settings.Output.MySQL.Database == "" {
		return fmt.Errorf("MySQL host and database must be configured")
	}
	return nil
}

// Open sets up the MySQL database connection
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		store.Settings.Output.MySQL.Username, store.Settings.Output.MySQL.Password,
		store.Settings.Output.MySQL.Host, store.Settings.Output.MySQL.Port,
		store.Settings.Output.MySQL.Database)

	newLogger := createGormLogger(store.Settings.Main.Debug)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Main.Debug, "MySQL",
		fmt.Sprintf("%s:%s/%s", store.Settings.Output.MySQL.Host,
			store.Settings.Output.MySQL.Port, store.Settings.Output.MySQL.Database))
}

// Close closes the MySQL database connection
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
