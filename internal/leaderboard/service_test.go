package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hauvo5999/real-time-quiz/internal/domain"
	"github.com/hauvo5999/real-time-quiz/internal/event"
	"github.com/hauvo5999/real-time-quiz/internal/leaderboard"
	"github.com/hauvo5999/real-time-quiz/internal/state"
)

type fakeRegistry map[string]bool

func (r fakeRegistry) Connected(string) map[string]bool { return r }

func TestService_Compute(t *testing.T) {
	type (
		inputs struct {
			scores    map[string]int64
			connected fakeRegistry
		}

		outputs struct {
			entries []domain.LeaderboardEntry
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"higher score ranks first": {
			arrange: func() inputs {
				return inputs{
					scores:    map[string]int64{"alice": 3, "bob": 7},
					connected: fakeRegistry{"alice": true, "bob": true},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{
					{Rank: 1, Username: "bob", Score: 7, Connected: true},
					{Rank: 2, Username: "alice", Score: 3, Connected: true},
				}, out.entries)
			},
		},

		"equal scores break ties by ascending username": {
			arrange: func() inputs {
				return inputs{
					scores:    map[string]int64{"carol": 5, "alice": 5, "bob": 5},
					connected: fakeRegistry{},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{
					{Rank: 1, Username: "alice", Score: 5},
					{Rank: 2, Username: "bob", Score: 5},
					{Rank: 3, Username: "carol", Score: 5},
				}, out.entries)
			},
		},

		"ranks are dense starting at 1": {
			arrange: func() inputs {
				return inputs{
					scores:    map[string]int64{"a": 9, "b": 9, "c": 1, "d": 0},
					connected: fakeRegistry{},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.entries, 4)
				for i, e := range out.entries {
					require.Equal(t, i+1, e.Rank)
				}
			},
		},

		"disconnected participants keep their entry": {
			arrange: func() inputs {
				return inputs{
					scores:    map[string]int64{"alice": 2, "bob": 1},
					connected: fakeRegistry{"bob": true},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{
					{Rank: 1, Username: "alice", Score: 2, Connected: false},
					{Rank: 2, Username: "bob", Score: 1, Connected: true},
				}, out.entries)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			ctx := context.Background()

			st := makeState(t)
			for u, sc := range in.scores {
				require.NoError(t, st.EnsureParticipant(ctx, "q1", u))
				if sc != 0 {
					_, err := st.AddScore(ctx, "q1", u, sc)
					require.NoError(t, err)
				}
			}

			s := leaderboard.NewService(leaderboard.Config{
				EventBus: event.NewBus(),
				State:    st,
				Registry: in.connected,
			})

			l, err := s.Compute(ctx, "q1")
			require.NoError(t, err)
			require.Equal(t, "q1", l.QuizID)

			tt.assert(t, outputs{entries: l.Entries})
		})
	}
}

func TestService_Compute_Deterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := makeState(t)
	for _, u := range []string{"u3", "u1", "u2"} {
		require.NoError(t, st.EnsureParticipant(ctx, "q1", u))
	}

	s := leaderboard.NewService(leaderboard.Config{
		EventBus: event.NewBus(),
		State:    st,
		Registry: fakeRegistry{},
	})

	first, err := s.Compute(ctx, "q1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := s.Compute(ctx, "q1")
		require.NoError(t, err)
		require.Equal(t, first, next, "repeated calls with identical input must agree")
	}
}

func TestService_RepublishOnScoreUpdated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu        sync.Mutex
		published []domain.EventLeaderboardUpdated
	)
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	st := makeState(t)
	require.NoError(t, st.EnsureParticipant(ctx, "q1", "alice"))
	_, err := st.AddScore(ctx, "q1", "alice", 4)
	require.NoError(t, err)

	leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		State:    st,
		Registry: fakeRegistry{"alice": true},
	})

	eb.Publish(ctx, domain.EventScoreUpdated{QuizID: "q1", Username: "alice", Score: 4})
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1, "a score update should trigger one leaderboard republish")
	require.Equal(t, domain.Leaderboard{
		QuizID: "q1",
		Entries: []domain.LeaderboardEntry{
			{Rank: 1, Username: "alice", Score: 4, Connected: true},
		},
	}, published[0].Leaderboard)
}

func makeState(t *testing.T) *state.Store {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return state.New(state.Config{Redis: rc})
}
