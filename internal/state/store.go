// Package state is the shared session state store: per-participant score and
// answered-question set, plus the per-session cached question list, all in
// redis with a TTL refreshed on every write. TTL expiry is the only
// garbage-collection mechanism.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hauvo5999/real-time-quiz/internal/errors"
)

const DefaultTTL = 5 * time.Minute

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

type Store struct {
	rc     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(c Config) *Store {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}

	return &Store{
		rc:     c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) key(parts string) string {
	if s.prefix == "" {
		return parts
	}
	return s.prefix + ":" + parts
}

func (s *Store) scoreKey(quizID, username string) string {
	return s.key(fmt.Sprintf("session:%s:participant:%s:score", quizID, username))
}

func (s *Store) answeredKey(quizID, username string) string {
	return s.key(fmt.Sprintf("session:%s:participant:%s:answered", quizID, username))
}

func (s *Store) questionsKey(quizID string) string {
	return s.key(fmt.Sprintf("session:%s:questions", quizID))
}

// EnsureParticipant creates score=0 for the participant if absent and
// refreshes the TTL on everything the participant touches. Idempotent.
func (s *Store) EnsureParticipant(ctx context.Context, quizID, username string) error {
	pipe := s.rc.TxPipeline()
	pipe.SetNX(ctx, s.scoreKey(quizID, username), 0, s.ttl)
	pipe.Expire(ctx, s.scoreKey(quizID, username), s.ttl)
	pipe.Expire(ctx, s.answeredKey(quizID, username), s.ttl)
	pipe.Expire(ctx, s.questionsKey(quizID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: ensure participant: %w", err)
	}

	return nil
}

// AddScore atomically adds delta to the stored score and refreshes the TTL,
// returning the new score. INCRBY makes concurrent callers safe without any
// read-modify-write.
func (s *Store) AddScore(ctx context.Context, quizID, username string, delta int64) (int64, error) {
	pipe := s.rc.TxPipeline()
	incr := pipe.IncrBy(ctx, s.scoreKey(quizID, username), delta)
	pipe.Expire(ctx, s.scoreKey(quizID, username), s.ttl)
	pipe.Expire(ctx, s.answeredKey(quizID, username), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("state: add score: %w", err)
	}

	return incr.Val(), nil
}

// Score reads the participant's current score. An absent key reads as 0.
func (s *Store) Score(ctx context.Context, quizID, username string) (int64, error) {
	v, err := s.rc.Get(ctx, s.scoreKey(quizID, username)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state: get score: %w", err)
	}

	return v, nil
}

// MarkAnswered adds the question to the participant's answered set and
// reports whether it was newly added. A false return is how duplicate
// submissions are detected.
func (s *Store) MarkAnswered(ctx context.Context, quizID, username, questionID string) (bool, error) {
	pipe := s.rc.TxPipeline()
	added := pipe.SAdd(ctx, s.answeredKey(quizID, username), questionID)
	pipe.Expire(ctx, s.answeredKey(quizID, username), s.ttl)
	pipe.Expire(ctx, s.scoreKey(quizID, username), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("state: mark answered: %w", err)
	}

	return added.Val() == 1, nil
}

// AnsweredSet returns the participant's answered question ids.
func (s *Store) AnsweredSet(ctx context.Context, quizID, username string) (map[string]bool, error) {
	ids, err := s.rc.SMembers(ctx, s.answeredKey(quizID, username)).Result()
	if err != nil {
		return nil, fmt.Errorf("state: answered set: %w", err)
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// EnsureQuestionList caches the session's ordered question list,
// set-if-absent so the first writer wins and the order stays immutable.
func (s *Store) EnsureQuestionList(ctx context.Context, quizID string, questionIDs []string) error {
	b, err := json.Marshal(questionIDs)
	if err != nil {
		return fmt.Errorf("state: marshal question list: %w", err)
	}

	pipe := s.rc.TxPipeline()
	pipe.SetNX(ctx, s.questionsKey(quizID), b, s.ttl)
	pipe.Expire(ctx, s.questionsKey(quizID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: ensure question list: %w", err)
	}

	return nil
}

// QuestionList returns the cached ordered question list for a session.
func (s *Store) QuestionList(ctx context.Context, quizID string) ([]string, error) {
	b, err := s.rc.Get(ctx, s.questionsKey(quizID)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question list not cached: quiz=%s", quizID))
	}
	if err != nil {
		return nil, fmt.Errorf("state: get question list: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("state: unmarshal question list: %w", err)
	}

	return ids, nil
}

// ClearParticipant removes the participant's score and answered set plus the
// session's cached question list. Used on explicit reset; the question list
// is repopulated set-if-absent from the catalog on the next join.
func (s *Store) ClearParticipant(ctx context.Context, quizID, username string) error {
	err := s.rc.Del(ctx,
		s.scoreKey(quizID, username),
		s.answeredKey(quizID, username),
		s.questionsKey(quizID),
	).Err()
	if err != nil {
		return fmt.Errorf("state: clear participant: %w", err)
	}

	return nil
}

// Participants enumerates every participant with state currently present for
// the session, by scanning score keys.
func (s *Store) Participants(ctx context.Context, quizID string) ([]string, error) {
	var (
		pre   = s.key(fmt.Sprintf("session:%s:participant:", quizID))
		match = pre + "*:score"

		users  []string
		cursor uint64
	)

	for {
		keys, next, err := s.rc.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("state: scan participants: %w", err)
		}

		for _, k := range keys {
			u := strings.TrimSuffix(strings.TrimPrefix(k, pre), ":score")
			users = append(users, u)
		}

		cursor = next
		if cursor == 0 {
			return users, nil
		}
	}
}
