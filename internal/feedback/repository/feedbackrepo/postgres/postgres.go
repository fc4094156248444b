package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/feedbackrepo"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/feedbackhub/feedback_control/internal/pkg/pgtools"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes the feedback tables can raise on writes.
const (
	uniqueViolation = "23505"
	fkViolation     = "23503"
	checkViolation  = "23514"
)

type FeedbackPostgresRepo struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, cfg config.PostgresDB) (FeedbackPostgresRepo, error) {
	db, err := pgtools.Connect(ctx, cfg)
	if err != nil {
		return FeedbackPostgresRepo{}, fmt.Errorf("connect to db error: %w", err)
	}

	if err := pgtools.ApplyMigration(cfg); err != nil {
		return FeedbackPostgresRepo{}, fmt.Errorf("apply migration error: %w", err)
	}

	return FeedbackPostgresRepo{
		db: db,
	}, nil
}

func (fr FeedbackPostgresRepo) CreateItem(ctx context.Context, title string) (item models.Item, err error) { //nolint:nonamedreturns
	tx, err := fr.db.Begin(ctx)
	if err != nil {
		return models.Item{}, fmt.Errorf("cannot begin transaction error: %w", err)
	}

	defer func() {
		err = pgtools.CommitOrRollback(ctx, tx, err, "create item")
	}()

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := psql.Insert("items").
		Columns("title").
		Values(title).
		Suffix("RETURNING id").ToSql()
	if err != nil {
		return models.Item{}, fmt.Errorf("to sql error: %w", err)
	}

	item.Title = title

	if err = tx.QueryRow(ctx, query, args...).Scan(&item.ID); err != nil {
		target := new(pgconn.PgError)
		if errors.As(err, &target) && target.Code == uniqueViolation {
			err = feedbackrepo.ErrTitleTaken

			return models.Item{}, err
		}

		return models.Item{}, fmt.Errorf("scan error: %w", err)
	}

	return item, nil
}

// CreateRating relies on the table constraints as the real guards: the
// (user_id, item_id) unique index, the 1..5 check and the item foreign
// key each map to their own sentinel, so a request that slipped past
// the service-level checks is still rejected here.
func (fr FeedbackPostgresRepo) CreateRating(ctx context.Context, r models.Rating) (created models.Rating, err error) { //nolint:nonamedreturns
	tx, err := fr.db.Begin(ctx)
	if err != nil {
		return models.Rating{}, fmt.Errorf("cannot begin transaction error: %w", err)
	}

	defer func() {
		err = pgtools.CommitOrRollback(ctx, tx, err, "create rating")
	}()

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := psql.Insert("feedback_ratings").
		Columns("user_id", "item_id", "rating").
		Values(r.UserID, r.ItemID, r.Rating).
		Suffix("RETURNING id").ToSql()
	if err != nil {
		return models.Rating{}, fmt.Errorf("to sql error: %w", err)
	}

	created = r

	if err = tx.QueryRow(ctx, query, args...).Scan(&created.ID); err != nil {
		target := new(pgconn.PgError)
		if errors.As(err, &target) {
			switch target.Code {
			case uniqueViolation:
				err = feedbackrepo.ErrAlreadyRated

				return models.Rating{}, err
			case checkViolation:
				err = feedbackrepo.ErrRatingRange

				return models.Rating{}, err
			case fkViolation:
				err = feedbackrepo.ErrItemNotFound

				return models.Rating{}, err
			}
		}

		return models.Rating{}, fmt.Errorf("scan error: %w", err)
	}

	return created, nil
}

// RatingsForItem returns the item's ratings in insertion order. An
// unknown item yields an empty list, not an error; the contract does
// not distinguish the two.
func (fr FeedbackPostgresRepo) RatingsForItem(ctx context.Context, itemID int) (ratings []models.Rating, err error) { //nolint:nonamedreturns
	tx, err := fr.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction error: %w", err)
	}

	defer func() {
		err = pgtools.CommitOrRollback(ctx, tx, err, "ratings for item")
	}()

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := psql.Select("id", "user_id", "item_id", "rating").
		From("feedback_ratings").
		Where(squirrel.Eq{"item_id": itemID}).
		OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("to sql error: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	ratings = make([]models.Rating, 0)

	for rows.Next() {
		var r models.Rating

		if err = rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Rating); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		ratings = append(ratings, r)
	}

	return ratings, nil
}

func (fr FeedbackPostgresRepo) ListItems(ctx context.Context) (items []models.Item, err error) { //nolint:nonamedreturns
	tx, err := fr.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction error: %w", err)
	}

	defer func() {
		err = pgtools.CommitOrRollback(ctx, tx, err, "list items")
	}()

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := psql.Select("id", "title").
		From("items").
		OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("to sql error: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	items = make([]models.Item, 0)

	for rows.Next() {
		var it models.Item

		if err = rows.Scan(&it.ID, &it.Title); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		items = append(items, it)
	}

	return items, nil
}

// TruncateAll wipes every table and restarts the id sequences in one
// transaction, so a failure leaves the data untouched.
func (fr FeedbackPostgresRepo) TruncateAll(ctx context.Context) (err error) { //nolint:nonamedreturns
	tx, err := fr.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot begin transaction error: %w", err)
	}

	defer func() {
		err = pgtools.CommitOrRollback(ctx, tx, err, "truncate all")
	}()

	if _, err = tx.Exec(ctx,
		"TRUNCATE TABLE users, items, feedback_ratings RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("exec error: %w", err)
	}

	return nil
}

func (fr FeedbackPostgresRepo) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		fr.db.Close()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context error: %w", ctx.Err())
	case <-done:
		return nil
	}
}
