package services

import (
	"chaguasmart/internal/models"
	"chaguasmart/internal/testutil"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func castVotes(t *testing.T, svc *PollService, poll *models.Poll, counts ...int) {
	t.Helper()
	n := 0
	for i, c := range counts {
		for j := 0; j < c; j++ {
			n++
			voter := testutil.CreateUser(t, svc.db, fmt.Sprintf("voter%d", n), "Main", models.RoleUser)
			_, err := svc.CastVote(context.Background(), CastVoteInput{
				PollID:   poll.ID,
				OptionID: poll.Options[i].ID,
				UserID:   voter.ID,
			})
			require.NoError(t, err)
		}
	}
}

func TestComputeResultsNoVotes(t *testing.T) {
	svc, conn := newTestService(t)
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator, "A", "B", "C")

	results, err := svc.ComputeResults(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Zero(t, results.TotalVotes)
	assert.Equal(t, models.PollStatusActive, results.Status)
	require.Len(t, results.Options, 3)
	for _, o := range results.Options {
		assert.Zero(t, o.VoteCount)
		assert.Zero(t, o.VotePercentage)
	}
}

func TestComputeResultsPercentages(t *testing.T) {
	cases := []struct {
		counts []int
		want   []float64
	}{
		{[]int{1, 1, 1}, []float64{33.33, 33.33, 33.33}},
		{[]int{2, 1}, []float64{66.67, 33.33}},
		{[]int{3, 0, 1}, []float64{75, 0, 25}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.counts), func(t *testing.T) {
			svc, conn := newTestService(t)
			creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
			options := make([]string, len(tc.counts))
			for i := range options {
				options[i] = fmt.Sprintf("Option %d", i+1)
			}
			poll := testutil.ActivePoll(t, conn, creator, options...)
			castVotes(t, svc, poll, tc.counts...)

			results, err := svc.ComputeResults(context.Background(), poll.ID)
			require.NoError(t, err)

			var total int64
			var sum float64
			for i, o := range results.Options {
				assert.Equal(t, poll.Options[i].ID, o.OptionID)
				assert.Equal(t, int64(tc.counts[i]), o.VoteCount)
				assert.Equal(t, tc.want[i], o.VotePercentage)
				total += o.VoteCount
				sum += o.VotePercentage
			}
			assert.Equal(t, total, results.TotalVotes)
			assert.InDelta(t, 100, sum, 0.01*float64(len(tc.counts)))
		})
	}
}

func TestComputeResultsInvalidatedByVote(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator, "A", "B")

	before, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	assert.Zero(t, before.TotalVotes)
	assert.Equal(t, 1, svc.cache.Len())

	castVotes(t, svc, poll, 0, 1)

	after, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.TotalVotes)
	assert.Equal(t, int64(1), after.Options[1].VoteCount)

	// callers cannot corrupt the cached tally
	after.Options[1].VoteCount = 42
	again, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Options[1].VoteCount)
}

func TestComputeResultsDropsTallyOverlappingVote(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator, "A", "B")

	// a reader tallies, a vote commits, then the reader tries to cache
	gen := svc.resultsGeneration(poll.ID)
	inflight, err := svc.tally(ctx, poll.ID)
	require.NoError(t, err)
	assert.Zero(t, inflight.total)

	castVotes(t, svc, poll, 1)

	assert.False(t, svc.storeTally(poll.ID, gen, inflight))
	assert.Zero(t, svc.cache.Len())

	results, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results.TotalVotes)
	assert.Equal(t, countVotes(t, conn, poll.ID), results.TotalVotes)

	// a tally taken after the vote is cached normally
	gen = svc.resultsGeneration(poll.ID)
	fresh, err := svc.tally(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, svc.storeTally(poll.ID, gen, fresh))
}

func TestComputeResultsReflectsClose(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	creator := testutil.CreateUser(t, conn, "creator", "Main", models.RoleUser)
	poll := testutil.ActivePoll(t, conn, creator, "A", "B")

	_, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	_, err = svc.ClosePoll(ctx, creator, poll.ID)
	require.NoError(t, err)

	results, err := svc.ComputeResults(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusEnded, results.Status)
}

func TestComputeResultsUnknownPoll(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ComputeResults(context.Background(), 777)
	assert.ErrorIs(t, err, ErrPollNotFound)
}
