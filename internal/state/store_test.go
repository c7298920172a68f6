package state_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hauvo5999/real-time-quiz/internal/errors"
	"github.com/hauvo5999/real-time-quiz/internal/state"
)

const testTTL = 5 * time.Minute

func makeStore(t *testing.T) (*state.Store, *miniredis.Miniredis) {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return state.New(state.Config{
		Redis: rc,
		TTL:   testTTL,
	}), rs
}

func TestStore_AddScore_NoLostUpdates(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))

	const (
		workers = 20
		perCall = int64(3)
	)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddScore(ctx, "q1", "alice", perCall)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	score, err := s.Score(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(workers)*perCall, score, "final score should equal the sum of all deltas")
}

func TestStore_AddScore_ReturnsNewScore(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	score, err := s.AddScore(ctx, "q1", "alice", 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), score)

	score, err = s.AddScore(ctx, "q1", "alice", 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), score, "zero delta should leave the score unchanged")
}

func TestStore_MarkAnswered_Idempotent(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	newly, err := s.MarkAnswered(ctx, "q1", "alice", "question-1")
	require.NoError(t, err)
	require.True(t, newly, "first mark should report newly added")

	newly, err = s.MarkAnswered(ctx, "q1", "alice", "question-1")
	require.NoError(t, err)
	require.False(t, newly, "second mark should report duplicate")

	answered, err := s.AnsweredSet(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"question-1": true}, answered)
}

func TestStore_EnsureQuestionList_FirstWriterWins(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureQuestionList(ctx, "q1", []string{"a", "b", "c"}))
	require.NoError(t, s.EnsureQuestionList(ctx, "q1", []string{"x"}))

	ids, err := s.QuestionList(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids, "the cached order is immutable once set")
}

func TestStore_QuestionList_NotCached(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)

	_, err := s.QuestionList(context.Background(), "q1")
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestStore_EnsureParticipant_Idempotent(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))

	_, err := s.AddScore(ctx, "q1", "alice", 7)
	require.NoError(t, err)

	// A rejoin must not reset an existing score.
	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))

	score, err := s.Score(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(7), score)
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	s, rs := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))
	require.NoError(t, s.EnsureQuestionList(ctx, "q1", []string{"a"}))
	_, err := s.MarkAnswered(ctx, "q1", "alice", "a")
	require.NoError(t, err)

	// Activity within the window keeps state alive.
	rs.FastForward(testTTL - time.Minute)
	_, err = s.AddScore(ctx, "q1", "alice", 1)
	require.NoError(t, err)

	rs.FastForward(testTTL - time.Minute)
	users, err := s.Participants(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, users, "refreshed state should survive past the original deadline")

	// A full idle window erases everything.
	rs.FastForward(testTTL + time.Second)

	users, err = s.Participants(ctx, "q1")
	require.NoError(t, err)
	require.Empty(t, users)

	score, err := s.Score(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Zero(t, score)

	answered, err := s.AnsweredSet(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Empty(t, answered)
}

func TestStore_ClearParticipant(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))
	require.NoError(t, s.EnsureQuestionList(ctx, "q1", []string{"a"}))
	_, err := s.AddScore(ctx, "q1", "alice", 3)
	require.NoError(t, err)
	_, err = s.MarkAnswered(ctx, "q1", "alice", "a")
	require.NoError(t, err)

	require.NoError(t, s.ClearParticipant(ctx, "q1", "alice"))

	users, err := s.Participants(ctx, "q1")
	require.NoError(t, err)
	require.Empty(t, users)

	answered, err := s.AnsweredSet(ctx, "q1", "alice")
	require.NoError(t, err)
	require.Empty(t, answered)

	_, err = s.QuestionList(ctx, "q1")
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestStore_Participants(t *testing.T) {
	t.Parallel()

	s, _ := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureParticipant(ctx, "q1", "alice"))
	require.NoError(t, s.EnsureParticipant(ctx, "q1", "bob"))
	require.NoError(t, s.EnsureParticipant(ctx, "q2", "carol"))

	users, err := s.Participants(ctx, "q1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, users)
}
