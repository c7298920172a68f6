package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/hauvo5999/real-time-quiz/internal/domain"
	"github.com/hauvo5999/real-time-quiz/internal/event"
	"github.com/hauvo5999/real-time-quiz/internal/state"
)

// Registry is the slice of the connection registry the aggregator needs to
// compute connectedness.
type Registry interface {
	Connected(quizID string) map[string]bool
}

type Config struct {
	EventBus *event.Bus
	State    *state.Store
	Registry Registry
}

// Service computes ranked leaderboard views from the session state store.
// It also listens for scoring and join events and republishes the fresh
// snapshot as leaderboard.updated for the fanout layer to broadcast.
type Service struct {
	eb    *event.Bus
	state *state.Store
	reg   Registry
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		state: c.State,
		reg:   c.Registry,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.republish(ctx, e.(domain.EventScoreUpdated).QuizID)
	})
	s.eb.Subscribe(domain.EventNameParticipantJoined, func(ctx context.Context, e event.Event) error {
		return s.republish(ctx, e.(domain.EventParticipantJoined).QuizID)
	})

	return s
}

// Compute builds the current leaderboard for a session: every participant
// present in the state store, sorted by score descending with ties broken by
// ascending username, dense 1-based ranks assigned in sorted order. Read
// only; a concurrent score update may or may not be reflected.
func (s *Service) Compute(ctx context.Context, quizID string) (*domain.Leaderboard, error) {
	users, err := s.state.Participants(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	connected := s.reg.Connected(quizID)

	entries := make([]domain.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		score, err := s.state.Score(ctx, quizID, u)
		if err != nil {
			return nil, fmt.Errorf("leaderboard: %w", err)
		}

		entries = append(entries, domain.LeaderboardEntry{
			Username:  u,
			Score:     score,
			Connected: connected[u],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return &domain.Leaderboard{
		QuizID:  quizID,
		Entries: entries,
	}, nil
}

func (s *Service) republish(ctx context.Context, quizID string) error {
	l, err := s.Compute(ctx, quizID)
	if err != nil {
		return fmt.Errorf("republish: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}
