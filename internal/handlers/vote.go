package handlers

import (
	"chaguasmart/internal/middleware"
	"chaguasmart/internal/services"
	"net/http"

	"github.com/gin-gonic/gin"
)

type VoteHandler struct {
	polls *services.PollService
}

func NewVoteHandler(polls *services.PollService) *VoteHandler {
	return &VoteHandler{polls: polls}
}

type voteRequest struct {
	OptionID uint `json:"option_id" binding:"required"`
}

// Vote POST /polls/:id/vote
func (h *VoteHandler) Vote(c *gin.Context) {
	pollID, ok := pollIDParam(c)
	if !ok {
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "option_id", err)
		return
	}

	vote, err := h.polls.CastVote(c.Request.Context(), services.CastVoteInput{
		PollID:    pollID,
		OptionID:  req.OptionID,
		UserID:    middleware.CurrentUser(c).ID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, vote)
}

// List GET /polls/:id/votes
func (h *VoteHandler) List(c *gin.Context) {
	pollID, ok := pollIDParam(c)
	if !ok {
		return
	}
	votes, err := h.polls.ListVotes(c.Request.Context(), middleware.CurrentUser(c), pollID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, votes)
}

// Mine GET /votes/mine
func (h *VoteHandler) Mine(c *gin.Context) {
	votes, err := h.polls.ListUserVotes(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, votes)
}
