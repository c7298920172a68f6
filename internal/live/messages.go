package live

import (
	"encoding/json"
	"fmt"

	"github.com/hauvo5999/real-time-quiz/internal/domain"
)

// Wire protocol: every frame is a JSON envelope tagged by "type". The set of
// types is closed; inbound frames with an unknown type get an error reply,
// unparseable ones are dropped.
const (
	msgTypeSubmitAnswer        = "submit_answer"
	msgTypeRequestNextQuestion = "request_next_question"

	msgTypeQuestion          = "question"
	msgTypeAnswerResult      = "answer_result"
	msgTypeLeaderboardUpdate = "leaderboard_update"
	msgTypeQuizComplete      = "quiz_complete"
	msgTypeError             = "error"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type submitAnswerData struct {
	QuestionID string `json:"question_id"`
	AnswerID   string `json:"answer_id"`
}

type questionData struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	TimeLimit int            `json:"time_limit"`
	Answers   []answerOption `json:"answers"`
}

// answerOption deliberately carries no correctness flag.
type answerOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type answerResultData struct {
	Correct bool   `json:"correct"`
	Message string `json:"message"`
}

type leaderboardData struct {
	Entries []leaderboardEntry `json:"entries"`
}

type leaderboardEntry struct {
	Rank      int    `json:"rank"`
	Username  string `json:"username"`
	Score     int64  `json:"score"`
	Connected bool   `json:"connected"`
}

type messageData struct {
	Message string `json:"message"`
}

func encode(typ string, data any) ([]byte, error) {
	b, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("live: marshal %s: %v", typ, err)
	}

	return b, nil
}

func toLeaderboardData(l domain.Leaderboard) leaderboardData {
	data := leaderboardData{
		Entries: make([]leaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		data.Entries = append(data.Entries, leaderboardEntry{
			Rank:      e.Rank,
			Username:  e.Username,
			Score:     e.Score,
			Connected: e.Connected,
		})
	}

	return data
}
