package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/feedbackhub/feedback_control/internal/pkg/redistools"
	"github.com/redis/go-redis/v9"
)

// ErrMiss reports that an item's ratings are not cached. It says
// nothing about whether the item exists.
var ErrMiss = errors.New("ratings cache miss")

type RatingCache struct {
	rdb     *redis.Client
	expTime time.Duration
}

func New(ctx context.Context, cfg config.RedisCache) (RatingCache, error) {
	rdb := redis.NewClient(&redis.Options{ //nolint:exhaustruct
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := redistools.Connect(ctx, rdb); err != nil {
		return RatingCache{}, fmt.Errorf("connect error: %w", err)
	}

	return RatingCache{
		rdb:     rdb,
		expTime: cfg.ExpTime,
	}, nil
}

func itemKey(itemID int) string {
	return fmt.Sprintf("item:%d:ratings", itemID)
}

func (rc RatingCache) SetItemRatings(ctx context.Context, itemID int, ratings []models.Rating) error {
	ratingsJSON, err := json.Marshal(ratings)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if _, err = rc.rdb.Set(ctx, itemKey(itemID), ratingsJSON, rc.expTime).Result(); err != nil {
		return fmt.Errorf("set error: %w", err)
	}

	return nil
}

func (rc RatingCache) GetItemRatings(ctx context.Context, itemID int) ([]models.Rating, error) {
	ratingsJSON, err := rc.rdb.Get(ctx, itemKey(itemID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	} else if err != nil {
		return nil, fmt.Errorf("get error: %w", err)
	}

	var ratings []models.Rating

	if err := json.Unmarshal([]byte(ratingsJSON), &ratings); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	return ratings, nil
}

func (rc RatingCache) DeleteItemRatings(ctx context.Context, itemID int) error {
	if _, err := rc.rdb.Del(ctx, itemKey(itemID)).Result(); err != nil {
		return fmt.Errorf("del error: %w", err)
	}

	return nil
}

// Flush drops every cached entry. Used after destructive operations
// that can touch an unknown set of items, such as a user self-delete
// cascading into its ratings.
func (rc RatingCache) Flush(ctx context.Context) error {
	if _, err := rc.rdb.FlushDB(ctx).Result(); err != nil {
		return fmt.Errorf("flushdb error: %w", err)
	}

	return nil
}
