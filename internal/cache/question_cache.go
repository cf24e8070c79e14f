package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"adaptive-quiz-service/internal/models"
)

const questionKeyPrefix = "quiz:question:"

// QuestionCache is a read-through cache in front of the question catalog.
// It never participates in write visibility: entries expire on TTL and are
// invalidated on catalog writes, and every failure degrades to a miss. A nil
// cache is valid and always misses.
type QuestionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQuestionCache(client *redis.Client, ttl time.Duration) *QuestionCache {
	return &QuestionCache{client: client, ttl: ttl}
}

func (c *QuestionCache) Get(ctx context.Context, questionID string) (*models.Question, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, questionKeyPrefix+questionID).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: get %s failed: %v", questionID, err)
		}
		return nil, false
	}
	var question models.Question
	if err := json.Unmarshal(data, &question); err != nil {
		log.Printf("cache: decode %s failed: %v", questionID, err)
		return nil, false
	}
	return &question, true
}

func (c *QuestionCache) Set(ctx context.Context, question *models.Question) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(question)
	if err != nil {
		log.Printf("cache: encode %s failed: %v", question.ID, err)
		return
	}
	if err := c.client.Set(ctx, questionKeyPrefix+question.ID, data, c.ttl).Err(); err != nil {
		log.Printf("cache: set %s failed: %v", question.ID, err)
	}
}

func (c *QuestionCache) Invalidate(ctx context.Context, questionID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, questionKeyPrefix+questionID).Err(); err != nil {
		log.Printf("cache: invalidate %s failed: %v", questionID, err)
	}
}
