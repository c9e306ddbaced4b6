package services

import (
	"chaguasmart/internal/models"
	"chaguasmart/internal/utils"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PollsPerPage         = 20
	maxTitleLength       = 255
	maxOptionLength      = 255
	maxDescriptionLength = 10000
	maxCampusLength      = 100
	minOptions           = 2
)

// PollService owns poll lifecycle, vote admission and tallies.
type PollService struct {
	db       *gorm.DB
	cache    *utils.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// 结果缓存代数，每次失效时递增
	genMu sync.Mutex
	gens  map[uint]uint64
}

func NewPollService(db *gorm.DB, cache *utils.Cache, cacheTTL time.Duration, logger *slog.Logger) *PollService {
	if cache == nil {
		cache = utils.GetCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollService{
		db:       db,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.With("component", "polls"),
		now:      func() time.Time { return time.Now().UTC() },
		gens:     make(map[uint]uint64),
	}
}

type CreatePollInput struct {
	Title              string
	Description        string
	StartTime          *time.Time // defaults to now
	EndTime            time.Time
	AllowMultipleVotes bool
	IsAnonymous        bool
	CampusRestricted   string
	CategoryID         *uint
	Options            []string
}

// CreatePoll validates the input and stores the poll with its options in one
// transaction. Invalid timing is rejected, never adjusted.
func (s *PollService) CreatePoll(ctx context.Context, creator *models.User, in CreatePollInput) (*models.Poll, error) {
	now := s.now()
	verr := &ValidationError{}

	title := utils.PlainText(in.Title)
	if title == "" {
		verr.add("title", "is required")
	} else if utf8.RuneCountInString(title) > maxTitleLength {
		verr.add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}

	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		verr.add("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}

	options := normalizeOptions(in.Options, verr)

	start := now
	if in.StartTime != nil && !in.StartTime.IsZero() {
		start = in.StartTime.UTC()
	}
	end := in.EndTime.UTC()
	validateWindow(start, end, now, verr)

	campus := strings.TrimSpace(in.CampusRestricted)
	if utf8.RuneCountInString(campus) > maxCampusLength {
		verr.add("campus_restricted", fmt.Sprintf("must be at most %d characters", maxCampusLength))
	}

	if in.CategoryID != nil {
		if err := s.checkCategory(ctx, *in.CategoryID, verr); err != nil {
			return nil, err
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	poll := models.Poll{
		Title:              title,
		Description:        description,
		CreatorID:          creator.ID,
		CategoryID:         in.CategoryID,
		StartTime:          start,
		EndTime:            end,
		IsActive:           true,
		AllowMultipleVotes: in.AllowMultipleVotes,
		IsAnonymous:        in.IsAnonymous,
		CampusRestricted:   campus,
	}
	for _, text := range options {
		poll.Options = append(poll.Options, models.Option{Text: text})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Creator", "Category").Create(&poll).Error; err != nil {
			if isUniqueViolation(err) {
				return &ValidationError{Fields: map[string]string{"options": "options must be unique"}}
			}
			return errors.Wrap(err, "create poll")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("poll created",
		"poll_id", poll.ID,
		"creator_id", creator.ID,
		"options", len(poll.Options),
		"start_time", poll.StartTime,
		"end_time", poll.EndTime,
	)
	return s.GetPoll(ctx, poll.ID)
}

func normalizeOptions(raw []string, verr *ValidationError) []string {
	seen := make(map[string]bool, len(raw))
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		text := utils.PlainText(o)
		if text == "" {
			verr.add("options", "options must not be empty")
			continue
		}
		if utf8.RuneCountInString(text) > maxOptionLength {
			verr.add("options", fmt.Sprintf("options must be at most %d characters", maxOptionLength))
			continue
		}
		if seen[text] {
			verr.add("options", fmt.Sprintf("duplicate option %q", text))
			continue
		}
		seen[text] = true
		options = append(options, text)
	}
	if len(raw) < minOptions {
		verr.add("options", fmt.Sprintf("at least %d options are required", minOptions))
	}
	return options
}

func validateWindow(start, end, now time.Time, verr *ValidationError) {
	switch {
	case end.IsZero():
		verr.add("end_time", "is required")
	case !end.After(start):
		verr.add("end_time", "must be after start_time")
	case !end.After(now):
		verr.add("end_time", "must be in the future")
	}
}

func (s *PollService) checkCategory(ctx context.Context, id uint, verr *ValidationError) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check category")
	}
	if count == 0 {
		verr.add("category_id", "unknown category")
	}
	return nil
}

// GetPoll loads a poll with its options and derived fields.
func (s *PollService) GetPoll(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Preload("Creator").
		Preload("Category").
		First(&poll, id).Error
	if err != nil {
		return nil, notFound(err, ErrPollNotFound, "load poll")
	}

	polls := []models.Poll{poll}
	if err := s.fillVoteCounts(ctx, polls); err != nil {
		return nil, err
	}
	poll = polls[0]
	s.decorate(&poll)
	poll.DescriptionHTML = utils.RenderMarkdown(poll.Description)
	return &poll, nil
}

type ListPollsInput struct {
	Status     string
	CategoryID *uint
	Page       int
}

type PollPage struct {
	Polls      []models.Poll `json:"polls"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	Total      int64         `json:"total"`
}

// ListPolls returns a page of polls, newest first. Status filters are evaluated
// against the current time in SQL so they agree with StatusAt.
func (s *PollService) ListPolls(ctx context.Context, in ListPollsInput) (*PollPage, error) {
	now := s.now()
	page := in.Page
	if page < 1 {
		page = 1
	}

	var statusScope func(*gorm.DB) *gorm.DB
	switch models.PollStatus(in.Status) {
	case "":
		statusScope = func(tx *gorm.DB) *gorm.DB { return tx }
	case models.PollStatusActive:
		statusScope = func(tx *gorm.DB) *gorm.DB {
			return tx.Where("is_active = ? AND start_time <= ? AND end_time >= ?", true, now, now)
		}
	case models.PollStatusUpcoming:
		statusScope = func(tx *gorm.DB) *gorm.DB {
			return tx.Where("is_active = ? AND start_time > ?", true, now)
		}
	case models.PollStatusEnded:
		statusScope = func(tx *gorm.DB) *gorm.DB {
			return tx.Where("(is_active = ? OR end_time < ?)", false, now)
		}
	default:
		return nil, &ValidationError{Fields: map[string]string{"status": "must be one of upcoming, active, ended"}}
	}
	categoryScope := func(tx *gorm.DB) *gorm.DB {
		if in.CategoryID != nil {
			return tx.Where("category_id = ?", *in.CategoryID)
		}
		return tx
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Poll{}).
		Scopes(statusScope, categoryScope).
		Count(&total).Error; err != nil {
		return nil, errors.Wrap(err, "count polls")
	}

	totalPages := int(math.Ceil(float64(total) / float64(PollsPerPage)))
	if totalPages == 0 {
		totalPages = 1
	}

	var polls []models.Poll
	if err := s.db.WithContext(ctx).
		Scopes(statusScope, categoryScope).
		Preload("Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Preload("Creator").
		Preload("Category").
		Order("created_at DESC, id DESC").
		Limit(PollsPerPage).
		Offset((page - 1) * PollsPerPage).
		Find(&polls).Error; err != nil {
		return nil, errors.Wrap(err, "list polls")
	}

	if err := s.fillVoteCounts(ctx, polls); err != nil {
		return nil, err
	}
	for i := range polls {
		s.decorate(&polls[i])
	}

	return &PollPage{Polls: polls, Page: page, TotalPages: totalPages, Total: total}, nil
}

// fillVoteCounts 批量填充投票总数
func (s *PollService) fillVoteCounts(ctx context.Context, polls []models.Poll) error {
	if len(polls) == 0 {
		return nil
	}

	pollIDs := make([]uint, len(polls))
	for i, p := range polls {
		pollIDs[i] = p.ID
	}

	type countResult struct {
		PollID uint
		Count  int
	}
	var results []countResult
	if err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Select("poll_id, COUNT(*) as count").
		Where("poll_id IN ?", pollIDs).
		Group("poll_id").
		Scan(&results).Error; err != nil {
		return errors.Wrap(err, "count votes")
	}

	countMap := make(map[uint]int, len(results))
	for _, r := range results {
		countMap[r.PollID] = r.Count
	}
	for i := range polls {
		polls[i].TotalVotes = countMap[polls[i].ID]
	}
	return nil
}

func (s *PollService) decorate(p *models.Poll) {
	p.Status = p.StatusAt(s.now())
	p.CreatorName = p.Creator.Username
	if p.Options == nil {
		p.Options = []models.Option{}
	}
}

type UpdatePollInput struct {
	Title       *string
	Description *string
	CategoryID  *uint
	EndTime     *time.Time
}

// UpdatePoll edits a poll's descriptive fields or moves its end time. Ended
// polls keep their window.
func (s *PollService) UpdatePoll(ctx context.Context, actor *models.User, id uint, in UpdatePollInput) (*models.Poll, error) {
	poll, err := s.loadManageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	verr := &ValidationError{}
	updates := map[string]interface{}{}

	if in.Title != nil {
		title := utils.PlainText(*in.Title)
		if title == "" {
			verr.add("title", "is required")
		} else if utf8.RuneCountInString(title) > maxTitleLength {
			verr.add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
		}
		updates["title"] = title
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if utf8.RuneCountInString(description) > maxDescriptionLength {
			verr.add("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
		}
		updates["description"] = description
	}
	if in.CategoryID != nil {
		if err := s.checkCategory(ctx, *in.CategoryID, verr); err != nil {
			return nil, err
		}
		updates["category_id"] = *in.CategoryID
	}
	if in.EndTime != nil {
		if poll.StatusAt(now) == models.PollStatusEnded {
			return nil, ErrPollClosed
		}
		end := in.EndTime.UTC()
		validateWindow(poll.StartTime, end, now, verr)
		updates["end_time"] = end
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(poll).Updates(updates).Error; err != nil {
			return nil, errors.Wrap(err, "update poll")
		}
		s.invalidateResults(poll.ID)
		s.logger.Info("poll updated", "poll_id", poll.ID, "actor_id", actor.ID, "fields", len(updates))
	}
	return s.GetPoll(ctx, poll.ID)
}

// ClosePoll ends voting immediately. A running poll has its end pulled back to
// the close time; a poll that has not started keeps its window and is ended by
// the is_active latch alone, so start < end always holds.
func (s *PollService) ClosePoll(ctx context.Context, actor *models.User, id uint) (*models.Poll, error) {
	poll, err := s.loadManageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	end := poll.EndTime
	if now.After(poll.StartTime) && end.After(now) {
		end = now
	}

	if err := s.db.WithContext(ctx).Model(poll).Updates(map[string]interface{}{
		"end_time":  end,
		"is_active": false,
	}).Error; err != nil {
		return nil, errors.Wrap(err, "close poll")
	}
	s.invalidateResults(poll.ID)

	s.logger.Info("poll closed", "poll_id", poll.ID, "actor_id", actor.ID, "end_time", end)
	return s.GetPoll(ctx, poll.ID)
}

// DeletePoll removes a poll that nobody has voted on. Options go with it.
func (s *PollService) DeletePoll(ctx context.Context, actor *models.User, id uint) error {
	poll, err := s.loadManageable(ctx, actor, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var votes int64
		if err := tx.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes).Error; err != nil {
			return errors.Wrap(err, "count votes")
		}
		if votes > 0 {
			return ErrPollHasVotes
		}
		if err := tx.Delete(poll).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return ErrPollHasVotes
			}
			return errors.Wrap(err, "delete poll")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateResults(poll.ID)

	s.logger.Info("poll deleted", "poll_id", poll.ID, "actor_id", actor.ID)
	return nil
}

func (s *PollService) loadManageable(ctx context.Context, actor *models.User, id uint) (*models.Poll, error) {
	var poll models.Poll
	if err := s.db.WithContext(ctx).First(&poll, id).Error; err != nil {
		return nil, notFound(err, ErrPollNotFound, "load poll")
	}
	if !poll.ManageableBy(actor) {
		actorID := uint(0)
		if actor != nil {
			actorID = actor.ID
		}
		s.logger.Warn("poll management denied", "poll_id", poll.ID, "actor_id", actorID)
		return nil, ErrForbidden
	}
	return &poll, nil
}

// RecordView stores one view per (poll, user, ip). userID is 0 for visitors.
func (s *PollService) RecordView(ctx context.Context, pollID, userID uint, ip string) error {
	view := models.PollView{PollID: pollID, UserID: userID, IPAddress: ip}
	err := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&view).Error
	return errors.Wrap(err, "record poll view")
}

func (s *PollService) CountViews(ctx context.Context, pollID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PollView{}).Where("poll_id = ?", pollID).Count(&count).Error
	return count, errors.Wrap(err, "count poll views")
}

func (s *PollService) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := s.db.WithContext(ctx).Order("name ASC").Find(&categories).Error
	return categories, errors.Wrap(err, "list categories")
}

func notFound(err, sentinel error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return errors.Wrap(err, op)
}
