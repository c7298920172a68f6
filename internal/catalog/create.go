package catalog

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateQuizRequest carries a whole quiz: ordered questions, each with its
// answer options.
type CreateQuizRequest struct {
	Title       string
	Description string
	Questions   []CreateQuestion
}

type CreateQuestion struct {
	Title     string
	TimeLimit int
	Points    int64
	Answers   []CreateAnswer
}

type CreateAnswer struct {
	Text    string
	Correct bool
}

type CreateQuizResponse struct {
	QuizID      string
	QuestionIDs []string
}

// CreateQuiz inserts a quiz with its questions and answers in one
// transaction. Question and answer order follows slice order.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (resp *CreateQuizResponse, err error) {
	quizID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate quiz ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insQuizStmt     = `INSERT INTO quizzes (id, title, description) VALUES ($1, $2, $3);`
		insQuestionStmt = `INSERT INTO questions (id, quiz_id, title, "order", time_limit, points) VALUES ($1, $2, $3, $4, $5, $6);`
		insAnswerStmt   = `INSERT INTO answers (id, question_id, text, is_correct, "order") VALUES ($1, $2, $3, $4, $5);`
	)

	_, err = tx.Exec(ctx, insQuizStmt, quizID, req.Title, req.Description)
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}

	resp = &CreateQuizResponse{
		QuizID:      quizID.String(),
		QuestionIDs: make([]string, 0, len(req.Questions)),
	}

	for i, q := range req.Questions { // TODO: Batch insert
		questionID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate question ID: %w", err)
		}

		_, err = tx.Exec(ctx, insQuestionStmt, questionID, quizID, q.Title, i+1, q.TimeLimit, q.Points)
		if err != nil {
			return nil, fmt.Errorf("insert question: %w", err)
		}
		resp.QuestionIDs = append(resp.QuestionIDs, questionID.String())

		for j, a := range q.Answers {
			answerID, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("generate answer ID: %w", err)
			}

			_, err = tx.Exec(ctx, insAnswerStmt, answerID, questionID, a.Text, a.Correct, j+1)
			if err != nil {
				return nil, fmt.Errorf("insert answer: %w", err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	return resp, nil
}
