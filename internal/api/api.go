// Package api exposes the thin HTTP surface: quiz creation, leaderboard
// snapshots, user creation, and the websocket entry point for live
// sessions.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hauvo5999/real-time-quiz/internal/catalog"
	"github.com/hauvo5999/real-time-quiz/internal/errors"
	"github.com/hauvo5999/real-time-quiz/internal/identity"
	"github.com/hauvo5999/real-time-quiz/internal/leaderboard"
	"github.com/hauvo5999/real-time-quiz/internal/live"
)

type Config struct {
	Router      gin.IRouter
	Catalog     *catalog.Service
	Identity    *identity.Service
	Leaderboard *leaderboard.Service
	Live        *live.Service
}

type API struct {
	catalog     *catalog.Service
	identity    *identity.Service
	leaderboard *leaderboard.Service
}

func New(c Config) *API {
	a := &API{
		catalog:     c.Catalog,
		identity:    c.Identity,
		leaderboard: c.Leaderboard,
	}

	v1 := c.Router.Group("/api/v1")
	v1.POST("/quizzes", a.CreateQuiz)
	v1.GET("/quizzes/:quiz_id/leaderboard", a.GetLeaderboard)
	v1.POST("/users", a.CreateUser)

	c.Router.GET("/ws/quiz/:quiz_id", c.Live.Handler())

	return a
}

type createQuizRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Questions   []struct {
		Title     string `json:"title" binding:"required"`
		TimeLimit int    `json:"time_limit"`
		Points    int64  `json:"points"`
		Answers   []struct {
			Text    string `json:"text" binding:"required"`
			Correct bool   `json:"is_correct"`
		} `json:"answers" binding:"required"`
	} `json:"questions" binding:"required"`
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req createQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	cr := catalog.CreateQuizRequest{
		Title:       req.Title,
		Description: req.Description,
		Questions:   make([]catalog.CreateQuestion, 0, len(req.Questions)),
	}
	for _, q := range req.Questions {
		cq := catalog.CreateQuestion{
			Title:     q.Title,
			TimeLimit: q.TimeLimit,
			Points:    q.Points,
			Answers:   make([]catalog.CreateAnswer, 0, len(q.Answers)),
		}
		for _, ans := range q.Answers {
			cq.Answers = append(cq.Answers, catalog.CreateAnswer{
				Text:    ans.Text,
				Correct: ans.Correct,
			})
		}
		cr.Questions = append(cr.Questions, cq)
	}

	resp, err := a.catalog.CreateQuiz(c.Request.Context(), cr)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"quiz_id":      resp.QuizID,
		"question_ids": resp.QuestionIDs,
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.Compute(c.Request.Context(), c.Param("quiz_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	entries := make([]gin.H, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, gin.H{
			"rank":      e.Rank,
			"username":  e.Username,
			"score":     e.Score,
			"connected": e.Connected,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz_id": l.QuizID,
		"entries": entries,
	})
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
}

func (a *API) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	username, err := a.identity.ResolveOrCreate(c.Request.Context(), req.Username)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"username": username})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
