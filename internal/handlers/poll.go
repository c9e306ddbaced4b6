package handlers

import (
	"chaguasmart/internal/middleware"
	"chaguasmart/internal/services"
	"chaguasmart/internal/utils"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type PollHandler struct {
	polls *services.PollService
}

func NewPollHandler(polls *services.PollService) *PollHandler {
	return &PollHandler{polls: polls}
}

// List GET /polls?status=&category_id=&page=
func (h *PollHandler) List(c *gin.Context) {
	in := services.ListPollsInput{
		Status: c.Query("status"),
		Page:   utils.StringToInt(c.DefaultQuery("page", "1")),
	}
	if raw := c.Query("category_id"); raw != "" {
		id, ok := utils.ParseID(raw)
		if !ok {
			badRequest(c, "category_id", errors.Errorf("invalid category id %q", raw))
			return
		}
		in.CategoryID = &id
	}

	page, err := h.polls.ListPolls(c.Request.Context(), in)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get GET /polls/:id
func (h *PollHandler) Get(c *gin.Context) {
	id, ok := pollIDParam(c)
	if !ok {
		return
	}

	poll, err := h.polls.GetPoll(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	h.recordView(c, poll.ID)
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) recordView(c *gin.Context, pollID uint) {
	var userID uint
	if user := middleware.CurrentUser(c); user != nil {
		userID = user.ID
	}
	if err := h.polls.RecordView(c.Request.Context(), pollID, userID, c.ClientIP()); err != nil {
		slog.Warn("failed to record poll view", "poll_id", pollID, "error", err)
	}
}

type createPollRequest struct {
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	StartTime          *time.Time `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	AllowMultipleVotes bool       `json:"allow_multiple_votes"`
	IsAnonymous        bool       `json:"is_anonymous"`
	CampusRestricted   string     `json:"campus_restricted"`
	CategoryID         *uint      `json:"category_id"`
	Options            []string   `json:"options"`
}

// Create POST /polls
func (h *PollHandler) Create(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err)
		return
	}

	poll, err := h.polls.CreatePoll(c.Request.Context(), middleware.CurrentUser(c), services.CreatePollInput{
		Title:              req.Title,
		Description:        req.Description,
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		AllowMultipleVotes: req.AllowMultipleVotes,
		IsAnonymous:        req.IsAnonymous,
		CampusRestricted:   req.CampusRestricted,
		CategoryID:         req.CategoryID,
		Options:            req.Options,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

type updatePollRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	CategoryID  *uint      `json:"category_id"`
	EndTime     *time.Time `json:"end_time"`
}

// Update PATCH /polls/:id
func (h *PollHandler) Update(c *gin.Context) {
	id, ok := pollIDParam(c)
	if !ok {
		return
	}
	var req updatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err)
		return
	}

	poll, err := h.polls.UpdatePoll(c.Request.Context(), middleware.CurrentUser(c), id, services.UpdatePollInput{
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		EndTime:     req.EndTime,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// Delete DELETE /polls/:id
func (h *PollHandler) Delete(c *gin.Context) {
	id, ok := pollIDParam(c)
	if !ok {
		return
	}
	if err := h.polls.DeletePoll(c.Request.Context(), middleware.CurrentUser(c), id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Close POST /polls/:id/close
func (h *PollHandler) Close(c *gin.Context) {
	id, ok := pollIDParam(c)
	if !ok {
		return
	}
	poll, err := h.polls.ClosePoll(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// Results GET /polls/:id/results
func (h *PollHandler) Results(c *gin.Context) {
	id, ok := pollIDParam(c)
	if !ok {
		return
	}
	results, err := h.polls.ComputeResults(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// Categories GET /categories
func (h *PollHandler) Categories(c *gin.Context) {
	categories, err := h.polls.ListCategories(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

// View GET /polls/:id/view renders the poll page with live results.
func (h *PollHandler) View(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		RenderError(c, services.ErrPollNotFound)
		return
	}
	ctx := c.Request.Context()

	poll, err := h.polls.GetPoll(ctx, id)
	if err != nil {
		RenderError(c, err)
		return
	}
	results, err := h.polls.ComputeResults(ctx, id)
	if err != nil {
		RenderError(c, err)
		return
	}
	h.recordView(c, poll.ID)

	views, err := h.polls.CountViews(ctx, poll.ID)
	if err != nil {
		slog.Warn("failed to count poll views", "poll_id", poll.ID, "error", err)
	}

	voted := map[uint]bool{}
	if user := middleware.CurrentUser(c); user != nil {
		ids, err := h.polls.VotedOptions(ctx, poll.ID, user.ID)
		if err != nil {
			RenderError(c, err)
			return
		}
		for _, optionID := range ids {
			voted[optionID] = true
		}
	}

	Render(c, http.StatusOK, "poll/detail.html", gin.H{
		"Title":   poll.Title,
		"Poll":    poll,
		"Results": results,
		"Voted":   voted,
		"Views":   views,
	})
}
