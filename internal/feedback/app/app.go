package app

import (
	"context"
	"fmt"
	"time"

	"github.com/feedbackhub/feedback_control/internal/feedback/api/server"
	fr "github.com/feedbackhub/feedback_control/internal/feedback/repository/feedbackrepo/postgres"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/ratingcache/redis"
	ur "github.com/feedbackhub/feedback_control/internal/feedback/repository/userrepo/postgres"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/authservice"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/feedbackservice"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/feedbackhub/feedback_control/pkg/logger"
)

type Server interface {
	Start(context.Context) error
	Shutdown(context.Context) error
}

type FeedbackApp struct {
	s   Server
	lg  logger.Logger
	cfg config.Config
}

func New(ctx context.Context, cfg config.Config) (FeedbackApp, error) {
	lg, err := logger.New(cfg.Logger)
	if err != nil {
		return FeedbackApp{}, fmt.Errorf("can't get logger error: %w", err)
	}

	feedbackRepo, err := fr.New(ctx, cfg.PostgresDB)
	if err != nil {
		return FeedbackApp{}, fmt.Errorf("postgres feedback repo initializing error: %w", err)
	}

	rc, err := redis.New(ctx, cfg.RedisCache)
	if err != nil {
		return FeedbackApp{}, fmt.Errorf("redis rating cache initializing error: %w", err)
	}

	feedbackService := feedbackservice.New(feedbackRepo, rc, lg)

	go feedbackService.BackgroundRefresh(ctx, cfg.RedisCache.ExpTime)

	userRepo, err := ur.New(ctx, cfg.PostgresDB)
	if err != nil {
		return FeedbackApp{}, fmt.Errorf("postgres user repo initializing error: %w", err)
	}

	authService := authservice.New(userRepo, cfg.Auth)

	s := server.New(cfg.Server, feedbackService, authService, lg)

	return FeedbackApp{
		s:   s,
		lg:  lg,
		cfg: cfg,
	}, nil
}

func (fa *FeedbackApp) Run(ctx context.Context) {
	fa.lg.Infof("STARTED SERVER ON %s", fa.cfg.Server.Addr)

	go func() {
		if err := fa.s.Start(ctx); err != nil {
			fa.lg.Errorf("server start error: %s", err.Error())
			ctx.Done()

			return
		}
	}()

	<-ctx.Done()

	ctxS, cancel := context.WithTimeout(context.Background(), time.Second*5) //nolint:gomnd
	defer cancel()

	if err := fa.Stop(ctxS); err != nil { //nolint:contextcheck
		fa.lg.Errorf("server shutdown error: %s", err.Error())
	}
}

func (fa *FeedbackApp) Stop(ctx context.Context) error {
	if err := fa.s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	fa.lg.Info("Shutdowned successfully")

	return nil
}
