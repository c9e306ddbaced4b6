package services

import (
	"chaguasmart/internal/models"
	"chaguasmart/internal/utils"
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type OptionResult struct {
	OptionID       uint    `json:"option_id"`
	OptionText     string  `json:"option_text"`
	VoteCount      int64   `json:"vote_count"`
	VotePercentage float64 `json:"vote_percentage"`
}

type Results struct {
	PollID     uint              `json:"poll_id"`
	Title      string            `json:"title"`
	Status     models.PollStatus `json:"status"`
	TotalVotes int64             `json:"total_votes"`
	Options    []OptionResult    `json:"options"`
}

// tally is the cached part of Results. Status is recomputed on every read.
type tally struct {
	total   int64
	options []OptionResult
}

func resultsCacheKey(pollID uint) string {
	return fmt.Sprintf("poll:%d:results", pollID)
}

func (s *PollService) invalidateResults(pollID uint) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[pollID]++
	s.cache.Delete(resultsCacheKey(pollID))
}

func (s *PollService) resultsGeneration(pollID uint) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[pollID]
}

// storeTally caches t only if no invalidation happened since gen was read, so
// a tally computed before a vote committed is never cached after it.
func (s *PollService) storeTally(pollID uint, gen uint64, t *tally) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[pollID] != gen {
		return false
	}
	s.cache.Set(resultsCacheKey(pollID), t, s.cacheTTL)
	return true
}

// ComputeResults reports per-option counts and percentages in option order.
// Percentages are rounded to two decimals and are all zero when no one voted.
func (s *PollService) ComputeResults(ctx context.Context, pollID uint) (*Results, error) {
	var poll models.Poll
	if err := s.db.WithContext(ctx).First(&poll, pollID).Error; err != nil {
		return nil, notFound(err, ErrPollNotFound, "load poll")
	}

	key := resultsCacheKey(poll.ID)
	var t *tally
	if cached := s.cache.Get(key); cached != nil {
		t, _ = cached.(*tally)
	}
	if t == nil {
		gen := s.resultsGeneration(poll.ID)
		var err error
		if t, err = s.tally(ctx, poll.ID); err != nil {
			return nil, err
		}
		s.storeTally(poll.ID, gen, t)
	}

	options := make([]OptionResult, len(t.options))
	copy(options, t.options)
	return &Results{
		PollID:     poll.ID,
		Title:      poll.Title,
		Status:     poll.StatusAt(s.now()),
		TotalVotes: t.total,
		Options:    options,
	}, nil
}

func (s *PollService) tally(ctx context.Context, pollID uint) (*tally, error) {
	var rows []OptionResult
	err := s.db.WithContext(ctx).Model(&models.Option{}).
		Select("options.id AS option_id, options.text AS option_text, COUNT(votes.id) AS vote_count").
		Joins("LEFT JOIN votes ON votes.option_id = options.id").
		Where("options.poll_id = ?", pollID).
		Group("options.id, options.text").
		Order("options.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "tally votes")
	}

	var total int64
	for _, r := range rows {
		total += r.VoteCount
	}
	for i := range rows {
		if total > 0 {
			rows[i].VotePercentage = utils.RoundTo2(float64(rows[i].VoteCount) / float64(total) * 100)
		}
	}
	if rows == nil {
		rows = []OptionResult{}
	}
	return &tally{total: total, options: rows}, nil
}
