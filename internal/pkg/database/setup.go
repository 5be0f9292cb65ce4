package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the process-wide handle opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// SetupDatabase opens the configured database, retrying while it starts up,
// and migrates the schema.
func SetupDatabase(cfg config.Database) error {
	if cfg.Driver == "sqlite" {
		db, err := OpenSQLite(cfg.Path)
		if err != nil {
			return err
		}
		DB = db
		return Migrate(DB)
	}

	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// duplicate keys surface as gorm.ErrDuplicatedKey
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			return Migrate(DB)
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("connect database: %w", err)
}

// Migrate creates or updates the tables of every engine model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Creator{},
		&models.Payment{},
		&models.Payout{},
		&models.Ticket{},
		&models.BillingWebhookEvent{},
	)
}
