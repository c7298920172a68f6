// Package live runs the per-connection quiz session loop: join handshake,
// question delivery, answer submission, leaderboard broadcast, disconnect
// cleanup. One goroutine reads the socket, one writes it; everything shared
// between connections lives in the state store or goes through the fanout
// channel.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hauvo5999/real-time-quiz/internal/domain"
	"github.com/hauvo5999/real-time-quiz/internal/errors"
	"github.com/hauvo5999/real-time-quiz/internal/event"
	"github.com/hauvo5999/real-time-quiz/internal/fanout"
	"github.com/hauvo5999/real-time-quiz/internal/leaderboard"
	"github.com/hauvo5999/real-time-quiz/internal/registry"
	"github.com/hauvo5999/real-time-quiz/internal/state"
)

// Close codes for failed handshakes.
const (
	closeUsernameRequired = 4001
	closeQuizNotFound     = 4004
)

// Catalog is the read-only quiz content collaborator.
type Catalog interface {
	SessionQuestionIDs(ctx context.Context, quizID string) ([]string, error)
	Question(ctx context.Context, questionID string) (domain.Question, error)
	Answers(ctx context.Context, questionID string) ([]domain.Answer, error)
	IsCorrect(ctx context.Context, questionID, answerID string) (bool, error)
}

// Identity resolves username tokens to participant identities.
type Identity interface {
	ResolveOrCreate(ctx context.Context, username string) (string, error)
}

type Config struct {
	EventBus    *event.Bus
	Registry    *registry.Registry
	State       *state.Store
	Leaderboard *leaderboard.Service
	Fanout      *fanout.Channel
	Catalog     Catalog
	Identity    Identity
}

type Service struct {
	eb       *event.Bus
	reg      *registry.Registry
	state    *state.Store
	lb       *leaderboard.Service
	fanout   *fanout.Channel
	catalog  Catalog
	identity Identity
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		reg:      c.Registry,
		state:    c.State,
		lb:       c.Leaderboard,
		fanout:   c.Fanout,
		catalog:  c.Catalog,
		identity: c.Identity,
	}

	s.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return s.broadcastLeaderboard(ctx, e.(domain.EventLeaderboardUpdated).Leaderboard)
	})

	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades GET /ws/quiz/:quiz_id?username=... and drives the
// connection until the client goes away.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quizID := c.Param("quiz_id")
		username := c.Query("username")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "live: upgrade failed", "error", err)
			return
		}

		s.serve(c.Request.Context(), ws, quizID, username)
	}
}

func (s *Service) serve(ctx context.Context, ws *websocket.Conn, quizID, usernameToken string) {
	username, err := s.identity.ResolveOrCreate(ctx, usernameToken)
	if err != nil {
		closeWith(ws, closeUsernameRequired, "username is required")
		return
	}

	questionIDs, err := s.catalog.SessionQuestionIDs(ctx, quizID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			closeWith(ws, closeQuizNotFound, "quiz not found")
		} else {
			slog.ErrorContext(ctx, "live: load quiz failed", "quiz_id", quizID, "error", err)
			closeWith(ws, websocket.CloseInternalServerErr, "internal error")
		}
		return
	}

	c := newConn(ws)
	go c.writePump()

	s.reg.Register(quizID, c)
	if prev := s.reg.Bind(quizID, c, username); prev != nil {
		// A fresh connection for the same participant supersedes the
		// old one.
		prev.Close()
	}
	s.fanout.Acquire(ctx, quizID)
	defer func() {
		s.reg.Unregister(quizID, c)
		s.fanout.Release(quizID)
		c.Close()
	}()

	// Store failures during join are transient, not fatal: the
	// operations are idempotent and the client retries by requesting the
	// next question.
	if err := s.state.EnsureParticipant(ctx, quizID, username); err != nil {
		slog.ErrorContext(ctx, "live: ensure participant failed", "quiz_id", quizID, "username", username, "error", err)
	}
	if err := s.state.EnsureQuestionList(ctx, quizID, questionIDs); err != nil {
		slog.ErrorContext(ctx, "live: cache question list failed", "quiz_id", quizID, "error", err)
	}

	slog.InfoContext(ctx, "live: participant joined", "quiz_id", quizID, "username", username)

	s.sendNextQuestion(ctx, quizID, username, c)
	s.sendLeaderboardSnapshot(ctx, quizID, c)

	s.eb.Publish(ctx, domain.EventParticipantJoined{
		QuizID:   quizID,
		Username: username,
	})

	s.readLoop(ctx, quizID, username, c)
}

func (s *Service) readLoop(ctx context.Context, quizID, username string, c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames are dropped, the connection stays
			// open.
			continue
		}

		switch env.Type {
		case msgTypeSubmitAnswer:
			var d submitAnswerData
			if err := json.Unmarshal(env.Data, &d); err != nil || d.QuestionID == "" || d.AnswerID == "" {
				continue
			}
			s.handleSubmit(ctx, quizID, username, c, d)

		case msgTypeRequestNextQuestion:
			s.sendNextQuestion(ctx, quizID, username, c)

		default:
			s.send(ctx, c, msgTypeError, messageData{
				Message: fmt.Sprintf("unknown message type: %s", env.Type),
			})
		}
	}
}

func (s *Service) handleSubmit(ctx context.Context, quizID, username string, c *conn, d submitAnswerData) {
	questionIDs, err := s.questionList(ctx, quizID)
	if err != nil {
		slog.ErrorContext(ctx, "live: load question list failed", "quiz_id", quizID, "error", err)
		return
	}
	if !contains(questionIDs, d.QuestionID) {
		s.send(ctx, c, msgTypeError, messageData{Message: "unknown question"})
		return
	}

	correct, err := s.catalog.IsCorrect(ctx, d.QuestionID, d.AnswerID)
	if err != nil {
		slog.ErrorContext(ctx, "live: check answer failed", "quiz_id", quizID, "question_id", d.QuestionID, "error", err)
		s.send(ctx, c, msgTypeError, messageData{Message: "error processing answer"})
		return
	}

	newly, err := s.state.MarkAnswered(ctx, quizID, username, d.QuestionID)
	if err != nil {
		// Failed-safe: no score change applied, the client may retry.
		slog.ErrorContext(ctx, "live: mark answered failed", "quiz_id", quizID, "username", username, "error", err)
		return
	}
	if !newly {
		// Duplicate submission: no score change, no reply, no
		// broadcast.
		return
	}

	var points int64
	if correct {
		q, err := s.catalog.Question(ctx, d.QuestionID)
		if err != nil {
			slog.ErrorContext(ctx, "live: load question failed", "question_id", d.QuestionID, "error", err)
		} else {
			points = q.Points
		}
	}

	// Zero-delta increments still refresh the TTL and report the current
	// score.
	score, err := s.state.AddScore(ctx, quizID, username, points)
	if err != nil {
		slog.ErrorContext(ctx, "live: add score failed", "quiz_id", quizID, "username", username, "error", err)
		return
	}

	result := answerResultData{Correct: correct, Message: "Incorrect answer!"}
	if correct {
		result.Message = "Correct answer!"
	}
	s.send(ctx, c, msgTypeAnswerResult, result)

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		QuizID:   quizID,
		Username: username,
		Score:    score,
	})
}

func (s *Service) sendNextQuestion(ctx context.Context, quizID, username string, c *conn) {
	questionIDs, err := s.questionList(ctx, quizID)
	if err != nil {
		slog.ErrorContext(ctx, "live: load question list failed", "quiz_id", quizID, "error", err)
		s.send(ctx, c, msgTypeError, messageData{Message: "error getting next question"})
		return
	}

	answered, err := s.state.AnsweredSet(ctx, quizID, username)
	if err != nil {
		slog.ErrorContext(ctx, "live: load answered set failed", "quiz_id", quizID, "username", username, "error", err)
		s.send(ctx, c, msgTypeError, messageData{Message: "error getting next question"})
		return
	}

	// First unanswered question in catalog order is next.
	var next string
	for _, id := range questionIDs {
		if !answered[id] {
			next = id
			break
		}
	}

	if next == "" {
		s.send(ctx, c, msgTypeQuizComplete, messageData{Message: "You have completed all questions!"})
		return
	}

	q, err := s.catalog.Question(ctx, next)
	if err != nil {
		slog.ErrorContext(ctx, "live: load question failed", "question_id", next, "error", err)
		s.send(ctx, c, msgTypeError, messageData{Message: "error getting next question"})
		return
	}

	answers, err := s.catalog.Answers(ctx, next)
	if err != nil {
		slog.ErrorContext(ctx, "live: load answers failed", "question_id", next, "error", err)
		s.send(ctx, c, msgTypeError, messageData{Message: "error getting next question"})
		return
	}

	data := questionData{
		ID:        q.QuestionID,
		Text:      q.Text,
		TimeLimit: q.TimeLimit,
		Answers:   make([]answerOption, 0, len(answers)),
	}
	for _, a := range answers {
		data.Answers = append(data.Answers, answerOption{ID: a.AnswerID, Text: a.Text})
	}

	s.send(ctx, c, msgTypeQuestion, data)
}

func (s *Service) sendLeaderboardSnapshot(ctx context.Context, quizID string, c *conn) {
	l, err := s.lb.Compute(ctx, quizID)
	if err != nil {
		slog.ErrorContext(ctx, "live: compute leaderboard failed", "quiz_id", quizID, "error", err)
		return
	}

	s.send(ctx, c, msgTypeLeaderboardUpdate, toLeaderboardData(*l))
}

// broadcastLeaderboard serializes the snapshot and hands it to the fanout
// topic so every process serving this session rebroadcasts it locally.
func (s *Service) broadcastLeaderboard(ctx context.Context, l domain.Leaderboard) error {
	payload, err := encode(msgTypeLeaderboardUpdate, toLeaderboardData(l))
	if err != nil {
		return err
	}

	return s.fanout.Publish(ctx, l.QuizID, payload)
}

// questionList reads the cached list, falling back to the catalog (and
// re-caching) if the TTL let it expire mid-session.
func (s *Service) questionList(ctx context.Context, quizID string) ([]string, error) {
	ids, err := s.state.QuestionList(ctx, quizID)
	if err == nil {
		return ids, nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	ids, err = s.catalog.SessionQuestionIDs(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.state.EnsureQuestionList(ctx, quizID, ids); err != nil {
		slog.ErrorContext(ctx, "live: re-cache question list failed", "quiz_id", quizID, "error", err)
	}

	return ids, nil
}

func (s *Service) send(ctx context.Context, c *conn, typ string, data any) {
	payload, err := encode(typ, data)
	if err != nil {
		slog.ErrorContext(ctx, "live: encode message failed", "type", typ, "error", err)
		return
	}

	if err := c.Send(payload); err != nil {
		slog.WarnContext(ctx, "live: send failed", "type", typ, "error", err)
	}
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
	_ = ws.Close()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
