package services

import (
	"chaguasmart/internal/models"
	"chaguasmart/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePoll(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	var category models.Category
	require.NoError(t, conn.First(&category).Error)

	poll, err := svc.CreatePoll(context.Background(), creator, CreatePollInput{
		Title:       "  Library <b>hours</b> ",
		Description: "Should the library open **24/7** during exams?",
		EndTime:     time.Now().Add(24 * time.Hour),
		CategoryID:  &category.ID,
		Options:     []string{" Yes ", "No", "Only weekends"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Library hours", poll.Title)
	assert.Equal(t, models.PollStatusActive, poll.Status)
	assert.Equal(t, "creator", poll.CreatorName)
	assert.Contains(t, poll.DescriptionHTML, "<strong>24/7</strong>")
	require.NotNil(t, poll.Category)
	assert.Equal(t, category.Name, poll.Category.Name)
	require.Len(t, poll.Options, 3)
	assert.Equal(t, "Yes", poll.Options[0].Text)
	assert.Equal(t, "Only weekends", poll.Options[2].Text)
	assert.Zero(t, poll.TotalVotes)
}

func TestCreatePollFutureStartIsUpcoming(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	start := time.Now().Add(time.Hour)

	poll, err := svc.CreatePoll(context.Background(), creator, CreatePollInput{
		Title:     "Spring festival theme",
		StartTime: &start,
		EndTime:   start.Add(time.Hour),
		Options:   []string{"Retro", "Space"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusUpcoming, poll.Status)
}

func TestCreatePollValidation(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	now := time.Now()
	later := now.Add(2 * time.Hour)
	unknown := uint(9999)

	cases := []struct {
		name  string
		in    CreatePollInput
		field string
	}{
		{"missing title", CreatePollInput{Title: "<i></i>", EndTime: later, Options: []string{"A", "B"}}, "title"},
		{"single option", CreatePollInput{Title: "T", EndTime: later, Options: []string{"A"}}, "options"},
		{"blank option", CreatePollInput{Title: "T", EndTime: later, Options: []string{"A", "  "}}, "options"},
		{"duplicate options", CreatePollInput{Title: "T", EndTime: later, Options: []string{"A", " A"}}, "options"},
		{"missing end", CreatePollInput{Title: "T", Options: []string{"A", "B"}}, "end_time"},
		{"end before start", CreatePollInput{Title: "T", StartTime: &later, EndTime: now.Add(time.Hour), Options: []string{"A", "B"}}, "end_time"},
		{"end in past", CreatePollInput{Title: "T", StartTime: ptr(now.Add(-3 * time.Hour)), EndTime: now.Add(-time.Hour), Options: []string{"A", "B"}}, "end_time"},
		{"unknown category", CreatePollInput{Title: "T", EndTime: later, CategoryID: &unknown, Options: []string{"A", "B"}}, "category_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePoll(context.Background(), creator, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.Poll{}).Count(&count).Error)
	assert.Zero(t, count)
}

func ptr[T any](v T) *T { return &v }

func TestClosePoll(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	stranger := testutil.CreateUser(t, conn, "stranger", "Main", models.RoleUser)
	voter := testutil.CreateUser(t, conn, "voter", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator, "A", "B")

	_, err := svc.ClosePoll(ctx, stranger, poll.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, KindForbidden, KindOf(err))

	closed, err := svc.ClosePoll(ctx, creator, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusEnded, closed.Status)
	assert.False(t, closed.IsActive)
	assert.False(t, closed.EndTime.After(time.Now()))
	assert.True(t, closed.StartTime.Before(closed.EndTime))

	_, err = svc.CastVote(ctx, CastVoteInput{PollID: poll.ID, OptionID: poll.Options[0].ID, UserID: voter.ID})
	assert.ErrorIs(t, err, ErrPollInactive)

	again, err := svc.ClosePoll(ctx, creator, poll.ID)
	require.NoError(t, err)
	assert.True(t, again.EndTime.Equal(closed.EndTime))
}

func TestClosePollByAdmin(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	admin := testutil.CreateUser(t, conn, "admin", "", models.RoleAdmin)
	poll := testutil.ActivePoll(t, conn, creator)

	closed, err := svc.ClosePoll(context.Background(), admin, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusEnded, closed.Status)
}

func TestCloseUpcomingPollKeepsWindow(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	voter := testutil.CreateUser(t, conn, "voter", "Main", models.RoleUser)
	now := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	start, end := now.Add(24*time.Hour), now.Add(48*time.Hour)
	poll := testutil.CreatePoll(t, conn, creator, testutil.PollFixture{Start: start, End: end})

	closed, err := svc.ClosePoll(ctx, creator, poll.ID)
	require.NoError(t, err)
	assert.True(t, closed.StartTime.Equal(start))
	assert.True(t, closed.EndTime.Equal(end))
	assert.True(t, closed.StartTime.Before(closed.EndTime))
	assert.False(t, closed.IsActive)
	assert.Equal(t, models.PollStatusEnded, closed.Status)

	// the latch keeps it shut once the window opens
	svc.now = func() time.Time { return start.Add(time.Hour) }
	got, err := svc.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusEnded, got.Status)
	_, err = svc.CastVote(ctx, CastVoteInput{PollID: poll.ID, OptionID: poll.Options[0].ID, UserID: voter.ID})
	assert.ErrorIs(t, err, ErrPollInactive)
	assert.Zero(t, countVotes(t, conn, poll.ID))
}

func TestCloseEndedPollKeepsEnd(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	now := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	end := now.Add(-2 * time.Hour)
	poll := testutil.CreatePoll(t, conn, creator, testutil.PollFixture{Start: now.Add(-4 * time.Hour), End: end})

	closed, err := svc.ClosePoll(context.Background(), creator, poll.ID)
	require.NoError(t, err)
	assert.True(t, closed.EndTime.Equal(end))
}

func TestClosePollNotFound(t *testing.T) {
	svc, conn := newTestService(t)
	admin := testutil.CreateUser(t, conn, "admin", "", models.RoleAdmin)

	_, err := svc.ClosePoll(context.Background(), admin, 12345)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestPollStatusLifecycle(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	base := time.Date(2030, 9, 1, 8, 0, 0, 0, time.UTC)
	poll := testutil.CreatePoll(t, conn, creator, testutil.PollFixture{
		Start: base.Add(time.Hour),
		End:   base.Add(3 * time.Hour),
	})

	for _, step := range []struct {
		at   time.Time
		want models.PollStatus
	}{
		{base, models.PollStatusUpcoming},
		{base.Add(2 * time.Hour), models.PollStatusActive},
		{base.Add(4 * time.Hour), models.PollStatusEnded},
	} {
		at := step.at
		svc.now = func() time.Time { return at }
		got, err := svc.GetPoll(context.Background(), poll.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status, at)
	}
}

func TestListPollsFiltersByStatus(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	now := time.Now().UTC()

	active := testutil.ActivePoll(t, conn, creator)
	upcoming := testutil.CreatePoll(t, conn, creator, testutil.PollFixture{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)})
	past := testutil.CreatePoll(t, conn, creator, testutil.PollFixture{Start: now.Add(-3 * time.Hour), End: now.Add(-2 * time.Hour)})
	closed := testutil.ActivePoll(t, conn, creator)
	_, err := svc.ClosePoll(ctx, creator, closed.ID)
	require.NoError(t, err)

	ids := func(status string) []uint {
		page, err := svc.ListPolls(ctx, ListPollsInput{Status: status})
		require.NoError(t, err)
		out := make([]uint, 0, len(page.Polls))
		for _, p := range page.Polls {
			assert.Equal(t, status, string(p.Status))
			out = append(out, p.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []uint{active.ID}, ids("active"))
	assert.ElementsMatch(t, []uint{upcoming.ID}, ids("upcoming"))
	assert.ElementsMatch(t, []uint{past.ID, closed.ID}, ids("ended"))

	all, err := svc.ListPolls(ctx, ListPollsInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Total)
	assert.Equal(t, 1, all.TotalPages)

	_, err = svc.ListPolls(ctx, ListPollsInput{Status: "paused"})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestListPollsPaginates(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	for i := 0; i < PollsPerPage+3; i++ {
		testutil.ActivePoll(t, conn, creator)
	}

	first, err := svc.ListPolls(context.Background(), ListPollsInput{Page: 1})
	require.NoError(t, err)
	assert.Len(t, first.Polls, PollsPerPage)
	assert.Equal(t, 2, first.TotalPages)

	second, err := svc.ListPolls(context.Background(), ListPollsInput{Page: 2})
	require.NoError(t, err)
	assert.Len(t, second.Polls, 3)
}

func TestUpdatePoll(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	stranger := testutil.CreateUser(t, conn, "stranger", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator)

	_, err := svc.UpdatePoll(ctx, stranger, poll.ID, UpdatePollInput{Title: ptr("Hijacked")})
	assert.ErrorIs(t, err, ErrForbidden)

	newEnd := time.Now().Add(5 * time.Hour).UTC()
	updated, err := svc.UpdatePoll(ctx, creator, poll.ID, UpdatePollInput{Title: ptr("Renamed"), EndTime: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.WithinDuration(t, newEnd, updated.EndTime, time.Second)

	_, err = svc.UpdatePoll(ctx, creator, poll.ID, UpdatePollInput{EndTime: ptr(time.Now().Add(-time.Minute))})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.ClosePoll(ctx, creator, poll.ID)
	require.NoError(t, err)
	_, err = svc.UpdatePoll(ctx, creator, poll.ID, UpdatePollInput{EndTime: &newEnd})
	assert.ErrorIs(t, err, ErrPollClosed)
}

func TestDeletePoll(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	voter := testutil.CreateUser(t, conn, "voter", "Main", models.RoleUser)
	voted := testutil.ActivePoll(t, conn, creator)
	empty := testutil.ActivePoll(t, conn, creator)

	_, err := svc.CastVote(ctx, CastVoteInput{PollID: voted.ID, OptionID: voted.Options[0].ID, UserID: voter.ID})
	require.NoError(t, err)

	err = svc.DeletePoll(ctx, creator, voted.ID)
	assert.ErrorIs(t, err, ErrPollHasVotes)
	assert.Equal(t, KindInvalidState, KindOf(err))

	assert.ErrorIs(t, svc.DeletePoll(ctx, voter, empty.ID), ErrForbidden)
	require.NoError(t, svc.DeletePoll(ctx, creator, empty.ID))

	_, err = svc.GetPoll(ctx, empty.ID)
	assert.ErrorIs(t, err, ErrPollNotFound)
	var options int64
	require.NoError(t, conn.Model(&models.Option{}).Where("poll_id = ?", empty.ID).Count(&options).Error)
	assert.Zero(t, options)
}

func TestRecordViewIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator)

	require.NoError(t, svc.RecordView(ctx, poll.ID, creator.ID, "10.0.0.1"))
	require.NoError(t, svc.RecordView(ctx, poll.ID, creator.ID, "10.0.0.1"))
	require.NoError(t, svc.RecordView(ctx, poll.ID, 0, "10.0.0.2"))

	views, err := svc.CountViews(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)
}

func TestListCategories(t *testing.T) {
	svc, _ := newTestService(t)

	categories, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, categories, 5)
	assert.Equal(t, "Academic", categories[0].Name)
}
