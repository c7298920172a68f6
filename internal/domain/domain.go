package domain

// Session represents one live run of a quiz: a fixed, ordered question list
// cached from the catalog. Participant state lives in the session state
// store, not here.
type Session struct {
	QuizID      string
	QuestionIDs []string
}

type Question struct {
	QuestionID string
	Text       string
	TimeLimit  int
	Points     int64
}

type Answer struct {
	AnswerID string
	Text     string
	Correct  bool
}

// Leaderboard is the ranked projection of a session's participants.
// Entries are sorted by score descending, ties broken by ascending
// username, with dense 1-based ranks.
type Leaderboard struct {
	QuizID  string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank      int
	Username  string
	Score     int64
	Connected bool
}
