package services

import (
	"chaguasmart/internal/models"
	"chaguasmart/internal/utils"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 150
)

type UserService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewUserService(db *gorm.DB, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{db: db, logger: logger.With("component", "users")}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Campus   string
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	user, err := s.newUser(in, models.RoleUser)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "create user")
	}
	s.logger.Info("user registered", "user_id", user.ID, "campus", user.Campus)
	return user, nil
}

func (s *UserService) newUser(in RegisterInput, role string) (*models.User, error) {
	verr := &ValidationError{}

	username := utils.PlainText(in.Username)
	if username == "" {
		verr.add("username", "is required")
	} else if utf8.RuneCountInString(username) > maxUsernameLength {
		verr.add("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	}

	email := normalizeEmail(in.Email)
	if parts := strings.Split(email, "@"); len(parts) != 2 || parts[0] == "" || !strings.Contains(parts[1], ".") {
		verr.add("email", "is not a valid address")
	}

	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		verr.add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	campus := utils.PlainText(in.Campus)
	if utf8.RuneCountInString(campus) > maxCampusLength {
		verr.add("campus", fmt.Sprintf("must be at most %d characters", maxCampusLength))
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	return &models.User{
		Username: username,
		Email:    email,
		Password: hashed,
		Campus:   campus,
		Role:     role,
	}, nil
}

// Authenticate returns the user owning email when password matches.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, errors.Wrap(err, "load user")
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		s.logger.Debug("login rejected", "user_id", user.ID)
		return nil, ErrBadCredentials
	}
	return &user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound, "load user")
	}
	return &user, nil
}

// EnsureAdmin makes sure an admin account exists for email, creating it or
// promoting the existing user.
func (s *UserService) EnsureAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(in.Email)).First(&existing).Error
	switch {
	case err == nil:
		if existing.IsAdmin() {
			return &existing, nil
		}
		if err := s.db.WithContext(ctx).Model(&existing).Update("role", models.RoleAdmin).Error; err != nil {
			return nil, errors.Wrap(err, "promote admin")
		}
		s.logger.Info("user promoted to admin", "user_id", existing.ID)
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errors.Wrap(err, "load admin")
	}

	admin, err := s.newUser(in, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return nil, errors.Wrap(err, "create admin")
	}
	s.logger.Info("admin account created", "user_id", admin.ID)
	return admin, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
