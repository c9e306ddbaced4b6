package services

import (
	"chaguasmart/internal/models"
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CastVoteInput struct {
	PollID    uint
	OptionID  uint
	UserID    uint
	IPAddress string
	UserAgent string
}

// CastVote records a ballot. The checks run inside one transaction and the
// (poll, user, slot) unique index decides races between concurrent ballots, so
// at most one of them is stored.
func (s *PollService) CastVote(ctx context.Context, in CastVoteInput) (*models.Vote, error) {
	var vote models.Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := lockPollRow(tx).First(&poll, in.PollID).Error; err != nil {
			return notFound(err, ErrPollNotFound, "load poll")
		}

		now := s.now()
		if !poll.AcceptsVotesAt(now) {
			return ErrPollInactive
		}

		var option models.Option
		if err := tx.Where("id = ? AND poll_id = ?", in.OptionID, poll.ID).First(&option).Error; err != nil {
			return notFound(err, ErrInvalidOption, "load option")
		}

		if poll.CampusRestricted != "" {
			var voter models.User
			if err := tx.First(&voter, in.UserID).Error; err != nil {
				return notFound(err, ErrUserNotFound, "load voter")
			}
			if !sameCampus(voter.Campus, poll.CampusRestricted) {
				return ErrCampusRestricted
			}
		}

		vote = models.Vote{
			PollID:    poll.ID,
			UserID:    in.UserID,
			OptionID:  option.ID,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
			CreatedAt: now,
		}
		if poll.AllowMultipleVotes {
			vote.Slot = option.ID
		}

		if err := tx.Omit(clause.Associations).Create(&vote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateVote
			}
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return ErrUserNotFound
			}
			return errors.Wrap(err, "create vote")
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			s.logger.Error("cast vote failed", "poll_id", in.PollID, "user_id", in.UserID, "error", err)
		} else {
			s.logger.Debug("vote rejected", "poll_id", in.PollID, "user_id", in.UserID, "reason", err)
		}
		return nil, err
	}

	s.invalidateResults(vote.PollID)
	s.logger.Info("vote cast", "poll_id", vote.PollID, "option_id", vote.OptionID, "user_id", vote.UserID)
	return &vote, nil
}

// lockPollRow takes a share lock on the poll row so a concurrent ClosePoll
// update waits for the ballot, or the ballot sees the closed row. SQLite
// serializes writers and has no row locks.
func lockPollRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
	}
	return tx
}

func sameCampus(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// VoteView is a ballot as shown to poll managers or to its own voter.
type VoteView struct {
	ID         uint      `json:"id"`
	PollID     uint      `json:"poll_id"`
	PollTitle  string    `json:"poll_title,omitempty"`
	OptionID   uint      `json:"option_id"`
	OptionText string    `json:"option_text"`
	VoterID    uint      `json:"voter_id,omitempty"`
	VoterName  string    `json:"voter_name,omitempty"`
	VotedAt    time.Time `json:"voted_at"`
}

// ListVotes returns every ballot of a poll to its creator or an admin. Voter
// identity is withheld on anonymous polls.
func (s *PollService) ListVotes(ctx context.Context, actor *models.User, pollID uint) ([]VoteView, error) {
	poll, err := s.loadManageable(ctx, actor, pollID)
	if err != nil {
		return nil, err
	}

	var votes []models.Vote
	if err := s.db.WithContext(ctx).
		Preload("Option").
		Preload("User").
		Where("poll_id = ?", poll.ID).
		Order("created_at ASC, id ASC").
		Find(&votes).Error; err != nil {
		return nil, errors.Wrap(err, "list votes")
	}

	views := make([]VoteView, 0, len(votes))
	for _, v := range votes {
		view := VoteView{
			ID:         v.ID,
			PollID:     v.PollID,
			OptionID:   v.OptionID,
			OptionText: v.Option.Text,
			VotedAt:    v.CreatedAt,
		}
		if !poll.IsAnonymous {
			view.VoterID = v.UserID
			view.VoterName = v.User.Username
		}
		views = append(views, view)
	}
	return views, nil
}

// ListUserVotes returns the caller's own ballots, newest first.
func (s *PollService) ListUserVotes(ctx context.Context, userID uint) ([]VoteView, error) {
	var votes []models.Vote
	if err := s.db.WithContext(ctx).
		Preload("Option").
		Preload("Poll").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&votes).Error; err != nil {
		return nil, errors.Wrap(err, "list user votes")
	}

	views := make([]VoteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, VoteView{
			ID:         v.ID,
			PollID:     v.PollID,
			PollTitle:  v.Poll.Title,
			OptionID:   v.OptionID,
			OptionText: v.Option.Text,
			VoterID:    v.UserID,
			VotedAt:    v.CreatedAt,
		})
	}
	return views, nil
}

// VotedOptions reports the options userID picked on pollID.
func (s *PollService) VotedOptions(ctx context.Context, pollID, userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		Order("option_id ASC").
		Pluck("option_id", &ids).Error
	return ids, errors.Wrap(err, "load voted options")
}
