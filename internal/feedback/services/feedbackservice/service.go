package feedbackservice

import (
	"context"
	"fmt"
	"time"

	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/feedbackrepo"
	"github.com/feedbackhub/feedback_control/pkg/logger"
)

const (
	minRating = 1
	maxRating = 5
)

type FeedbackService struct {
	feedbackRepo Repository
	ratingCache  Cache
	lg           logger.Logger
}

type Repository interface {
	CreateItem(context.Context, string) (models.Item, error)
	CreateRating(context.Context, models.Rating) (models.Rating, error)
	RatingsForItem(context.Context, int) ([]models.Rating, error)
	ListItems(context.Context) ([]models.Item, error)
	TruncateAll(context.Context) error
	Shutdown(context.Context) error
}

type Cache interface {
	GetItemRatings(ctx context.Context, itemID int) ([]models.Rating, error)
	SetItemRatings(ctx context.Context, itemID int, ratings []models.Rating) error
	DeleteItemRatings(ctx context.Context, itemID int) error
	Flush(ctx context.Context) error
}

func New(feedbackRepo Repository, ratingCache Cache, lg logger.Logger) *FeedbackService {
	return &FeedbackService{
		feedbackRepo: feedbackRepo,
		ratingCache:  ratingCache,
		lg:           lg,
	}
}

func (fs *FeedbackService) CreateItem(ctx context.Context, title string) (models.Item, error) {
	item, err := fs.feedbackRepo.CreateItem(ctx, title)
	if err != nil {
		return models.Item{}, fmt.Errorf("create item error: %w", err)
	}

	return item, nil
}

// Rate stores one user's rating for an item. The early range check only
// shapes the error message; the database check constraint remains the
// authoritative guard for any path that skips this method.
func (fs *FeedbackService) Rate(ctx context.Context, userID, itemID, rating int) (models.Rating, error) {
	if rating < minRating || rating > maxRating {
		return models.Rating{}, feedbackrepo.ErrRatingRange
	}

	r := models.Rating{ //nolint:exhaustruct
		UserID: userID,
		ItemID: itemID,
		Rating: rating,
	}

	created, err := fs.feedbackRepo.CreateRating(ctx, r)
	if err != nil {
		return models.Rating{}, fmt.Errorf("create rating error: %w", err)
	}

	if err := fs.ratingCache.DeleteItemRatings(ctx, itemID); err != nil {
		fs.lg.Errorf("invalidate ratings cache error: %s", err.Error())
	}

	return created, nil
}

func (fs *FeedbackService) RatingsForItem(ctx context.Context, itemID int) ([]models.Rating, error) {
	ratings, err := fs.ratingCache.GetItemRatings(ctx, itemID)
	if err == nil {
		fs.lg.Info("cache hit")

		return ratings, nil
	}

	fs.lg.Info("cache missed")

	ratings, err = fs.feedbackRepo.RatingsForItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("ratings for item error: %w", err)
	}

	if err := fs.ratingCache.SetItemRatings(ctx, itemID, ratings); err != nil {
		fs.lg.Errorf("set ratings cache error: %s", err.Error())
	}

	return ratings, nil
}

// Clean truncates every table. The truncate runs in a single
// transaction in the repository, so a failure rolls the whole wipe
// back; only then is the cache flushed.
func (fs *FeedbackService) Clean(ctx context.Context) error {
	if err := fs.feedbackRepo.TruncateAll(ctx); err != nil {
		return fmt.Errorf("truncate error: %w", err)
	}

	if err := fs.ratingCache.Flush(ctx); err != nil {
		fs.lg.Errorf("flush ratings cache error: %s", err.Error())
	}

	return nil
}

// InvalidateAll drops the whole cache. Called after a user self-delete,
// which cascades into ratings of an unknown set of items.
func (fs *FeedbackService) InvalidateAll(ctx context.Context) error {
	if err := fs.ratingCache.Flush(ctx); err != nil {
		return fmt.Errorf("flush ratings cache error: %w", err)
	}

	return nil
}

// BackgroundRefresh re-warms the per-item ratings entries every ttl so
// cached listings converge on the database within one period.
func (fs *FeedbackService) BackgroundRefresh(ctx context.Context, ttl time.Duration) {
	t := time.NewTicker(ttl)
	defer t.Stop()

	if err := fs.refresh(ctx); err != nil {
		fs.lg.Errorf("refresh error: %s", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := fs.refresh(ctx); err != nil {
				fs.lg.Errorf("refresh error: %s", err.Error())
			}
		}
	}
}

func (fs *FeedbackService) Shutdown(ctx context.Context) error {
	if err := fs.feedbackRepo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown feedback repo error: %w", err)
	}

	return nil
}

func (fs *FeedbackService) refresh(ctx context.Context) error {
	errCh := make(chan error)

	go func() {
		defer close(errCh)

		items, err := fs.feedbackRepo.ListItems(ctx)
		if err != nil {
			errCh <- fmt.Errorf("list items error: %w", err)

			return
		}

		for _, item := range items {
			ratings, err := fs.feedbackRepo.RatingsForItem(ctx, item.ID)
			if err != nil {
				errCh <- fmt.Errorf("ratings for item error: %w", err)

				return
			}

			if err := fs.ratingCache.SetItemRatings(ctx, item.ID, ratings); err != nil {
				errCh <- fmt.Errorf("set ratings cache error: %w", err)

				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled error: %w", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return err
		}

		return nil
	}
}
