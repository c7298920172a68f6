// Package catalog is the read-mostly quiz content collaborator: quizzes,
// their ordered questions, and answer options live in postgres. The live
// session path only ever reads from it.
package catalog

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hauvo5999/real-time-quiz/internal/domain"
	"github.com/hauvo5999/real-time-quiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// SessionQuestionIDs returns the quiz's question ids in catalog order. A
// quiz with no questions is indistinguishable from an unknown quiz; both
// report not found, which fails the join handshake.
func (s *Service) SessionQuestionIDs(ctx context.Context, quizID string) ([]string, error) {
	const stmt = `SELECT id FROM questions WHERE quiz_id = $1 ORDER BY "order";`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list questions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list questions: %w", err)
	}

	if len(ids) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", quizID))
	}

	return ids, nil
}

func (s *Service) Question(ctx context.Context, questionID string) (domain.Question, error) {
	const stmt = `SELECT title, time_limit, points FROM questions WHERE id = $1;`

	q := domain.Question{QuestionID: questionID}
	err := s.db.QueryRow(ctx, stmt, questionID).Scan(&q.Text, &q.TimeLimit, &q.Points)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %s", questionID))
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("catalog: get question: %w", err)
	}

	return q, nil
}

func (s *Service) Answers(ctx context.Context, questionID string) ([]domain.Answer, error) {
	const stmt = `SELECT id, text, is_correct FROM answers WHERE question_id = $1 ORDER BY "order";`

	rows, err := s.db.Query(ctx, stmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list answers: %w", err)
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.AnswerID, &a.Text, &a.Correct)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list answers: %w", err)
	}

	return answers, nil
}

// IsCorrect reports whether the answer belongs to the question and is marked
// correct. An unknown (question, answer) pair is simply incorrect.
func (s *Service) IsCorrect(ctx context.Context, questionID, answerID string) (bool, error) {
	const stmt = `SELECT is_correct FROM answers WHERE id = $1 AND question_id = $2;`

	var correct bool
	err := s.db.QueryRow(ctx, stmt, answerID, questionID).Scan(&correct)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: check answer: %w", err)
	}

	return correct, nil
}
