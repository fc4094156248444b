package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/feedbackrepo"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/userrepo"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/authservice"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/feedbackservice"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/feedbackhub/feedback_control/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type Server struct {
	serv            *http.Server
	feedbackService FeedbackService
	authService     AuthService
}

type FeedbackService interface {
	CreateItem(context.Context, string) (models.Item, error)
	Rate(ctx context.Context, userID, itemID, rating int) (models.Rating, error)
	RatingsForItem(context.Context, int) ([]models.Rating, error)
	Clean(context.Context) error
	InvalidateAll(context.Context) error
	Shutdown(context.Context) error
}

type AuthService interface {
	Register(context.Context, authservice.RegisterRequest) (models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(context.Context, string) (models.User, error)
	DeleteUser(context.Context, string) error
	Users(context.Context) ([]models.User, error)
}

func New(cfg config.Server, fs FeedbackService, as AuthService, lg logger.Logger) *Server {
	var s Server

	s.feedbackService = fs
	s.authService = as

	r := chi.NewRouter()
	r.Use(loggingMiddleware(lg))

	r.Get("/user", s.listUsers)
	r.Post("/register", s.register)
	r.Post("/token", s.login)
	r.Post("/items", s.createItem)
	r.Get("/feedback/{itemID}", s.listFeedback)
	r.Post("/clean", s.clean)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Delete("/user/delete/me", s.deleteMe)
		r.Post("/feedback", s.createFeedback)
	})

	s.serv = &http.Server{ //nolint:exhaustruct
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &s
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error)

	go func() {
		if err := s.serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			close(errCh)
		}
	}()

	select {
	case <-ctx.Done():
		ctxS, cancel := context.WithTimeout(context.Background(), time.Second*5) //nolint:gomnd
		defer cancel()

		if err := s.Shutdown(ctxS); err != nil { //nolint:contextcheck
			return fmt.Errorf("context error: %w server error %w", ctxS.Err(), err)
		}

		if !errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("context cancelled error: %w", ctx.Err())
		}

		return nil
	case err := <-errCh:
		return fmt.Errorf("listen and serve error: %w", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctxS, cancel := context.WithTimeout(ctx, s.serv.IdleTimeout)
	defer cancel()

	if err := s.serv.Shutdown(ctxS); err != nil {
		return fmt.Errorf("shutdown server error: %w", err)
	}

	return nil
}

// Список пользователей
// (GET /user).
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	users, err := s.authService.Users(r.Context())
	if err != nil {
		handleError(w, fmt.Errorf("list users error: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(ListUsersResponse{Users: users}); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Регистрация пользователя
// (POST /register).
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	var req authservice.RegisterRequest

	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(&req); err != nil {
		handleError(w, fmt.Errorf("decode error: %w", err), http.StatusBadRequest)

		return
	}

	if req.Username == "" || req.Password == "" {
		handleError(w, errors.New("username and password are required"), http.StatusBadRequest) //nolint:goerr113

		return
	}

	u, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, userrepo.ErrAlreadyExists) {
			handleError(w, userrepo.ErrAlreadyExists, http.StatusBadRequest)

			return
		}

		handleError(w, fmt.Errorf("register error: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(RegisterResponse{ID: u.ID, Username: u.Username}); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Аутентификация пользователя, выдача токена
// (POST /token).
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	if err := r.ParseForm(); err != nil {
		handleError(w, fmt.Errorf("parse form error: %w", err), http.StatusBadRequest)

		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	token, err := s.authService.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, authservice.ErrUnauthorized) {
			handleUnauthorized(w, "incorrect username or password")

			return
		}

		handleError(w, fmt.Errorf("login error: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Username:    username,
	}); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Удаление текущего пользователя
// (DELETE /user/delete/me).
func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	u, ok := userFromContext(r.Context())
	if !ok {
		handleUnauthorized(w, "could not validate credentials")

		return
	}

	if err := s.authService.DeleteUser(r.Context(), u.Username); err != nil {
		handleError(w, fmt.Errorf("delete user error: %w", err), http.StatusInternalServerError)

		return
	}

	// Каскад мог удалить рейтинги неизвестного набора предметов.
	if err := s.feedbackService.InvalidateAll(r.Context()); err != nil {
		handleError(w, fmt.Errorf("invalidate cache error: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(MessageResponse{
		Message: fmt.Sprintf("User '%s' successfully deleted", u.Username),
	}); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Создание предмета
// (POST /items).
func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	var req feedbackservice.CreateItemRequest

	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(&req); err != nil {
		handleError(w, fmt.Errorf("decode error: %w", err), http.StatusBadRequest)

		return
	}

	if req.Title == "" {
		handleError(w, errors.New("title is required"), http.StatusBadRequest) //nolint:goerr113

		return
	}

	item, err := s.feedbackService.CreateItem(r.Context(), req.Title)
	if err != nil {
		if errors.Is(err, feedbackrepo.ErrTitleTaken) {
			handleError(w, feedbackrepo.ErrTitleTaken, http.StatusBadRequest)

			return
		}

		handleError(w, fmt.Errorf("create item error: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(item); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Создание отзыва
// (POST /feedback).
func (s *Server) createFeedback(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	u, ok := userFromContext(r.Context())
	if !ok {
		handleUnauthorized(w, "could not validate credentials")

		return
	}

	var req feedbackservice.RateRequest

	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(&req); err != nil {
		handleError(w, fmt.Errorf("decode error: %w", err), http.StatusBadRequest)

		return
	}

	rating, err := s.feedbackService.Rate(r.Context(), u.ID, req.ItemID, req.Rating)
	if err != nil {
		switch {
		case errors.Is(err, feedbackrepo.ErrRatingRange):
			handleError(w, feedbackrepo.ErrRatingRange, http.StatusBadRequest)
		case errors.Is(err, feedbackrepo.ErrAlreadyRated):
			handleError(w, feedbackrepo.ErrAlreadyRated, http.StatusBadRequest)
		case errors.Is(err, feedbackrepo.ErrItemNotFound):
			handleError(w, feedbackrepo.ErrItemNotFound, http.StatusBadRequest)
		default:
			handleError(w, fmt.Errorf("rate error: %w", err), http.StatusInternalServerError)
		}

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(rating); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Отзывы по предмету
// (GET /feedback/{itemID}).
func (s *Server) listFeedback(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	itemID, err := strconv.Atoi(chi.URLParam(r, "itemID"))
	if err != nil {
		handleError(w, fmt.Errorf("parse item id error: %w", err), http.StatusBadRequest)

		return
	}

	ratings, err := s.feedbackService.RatingsForItem(r.Context(), itemID)
	if err != nil {
		handleError(w, fmt.Errorf("ratings for item error: %w", err), http.StatusInternalServerError)

		return
	}

	if ratings == nil {
		ratings = make([]models.Rating, 0)
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(ratings); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

// Очистка всех таблиц
// (POST /clean).
func (s *Server) clean(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	if err := s.feedbackService.Clean(r.Context()); err != nil {
		handleError(w, fmt.Errorf("failed to clean tables: %w", err), http.StatusInternalServerError)

		return
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(MessageResponse{
		Message: "All tables have been cleaned successfully",
	}); err != nil {
		handleError(w, fmt.Errorf("encode error: %w", err), http.StatusInternalServerError)

		return
	}
}

func handleError(w http.ResponseWriter, err error, code int) {
	w.WriteHeader(code)

	e := Error{err.Error()}

	w.Write(e.ToJSON()) //nolint:errcheck
}
