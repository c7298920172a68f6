package domain

const (
	EventNameScoreUpdated       = "score.updated"
	EventNameParticipantJoined  = "participant.joined"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventScoreUpdated is published after every non-duplicate answer
// submission, correct or not.
type EventScoreUpdated struct {
	QuizID   string
	Username string
	Score    int64
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventParticipantJoined is published when a participant completes the join
// handshake, so existing participants see the newcomer at score 0.
type EventParticipantJoined struct {
	QuizID   string
	Username string
}

func (EventParticipantJoined) Name() string { return EventNameParticipantJoined }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
