package db

import (
	"chaguasmart/internal/models"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the postgres database, migrates it and seeds default rows.
func Init(dsn string) (*gorm.DB, error) {
	conn, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	slog.Info("database connection established")

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	slog.Info("database migration completed")

	if err := SeedCategories(conn); err != nil {
		return nil, err
	}

	return conn, nil
}

// Open connects through dialector with error translation enabled so unique
// violations surface as gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
	})
}

func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Poll{},
		&models.Option{},
		&models.Vote{},
		&models.PollView{},
	)
	return errors.Wrap(err, "migrate database")
}

// DefaultCategories are created on an empty categories table.
var DefaultCategories = []models.Category{
	{Name: "Student Government", Color: "#3498db", Description: "Elections and student council decisions"},
	{Name: "Campus Events", Color: "#2ecc71", Description: "Festivals, clubs and gatherings"},
	{Name: "Academic", Color: "#e74c3c", Description: "Courses, exams and faculty matters"},
	{Name: "Campus Services", Color: "#f39c12", Description: "Cafeteria, housing, transport and facilities"},
	{Name: "Other", Color: "#95a5a6", Description: "Everything else"},
}

func SeedCategories(conn *gorm.DB) error {
	var count int64
	if err := conn.Model(&models.Category{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count categories")
	}
	if count > 0 {
		slog.Debug("categories already seeded, skipping")
		return nil
	}

	for _, category := range DefaultCategories {
		category := category
		if err := conn.Create(&category).Error; err != nil {
			slog.Warn("failed to create category", "name", category.Name, "error", err)
		}
	}
	slog.Info("initial categories created", "count", len(DefaultCategories))
	return nil
}
