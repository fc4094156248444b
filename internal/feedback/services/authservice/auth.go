package authservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/userrepo"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/feedbackhub/feedback_control/internal/pkg/jwtauth"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized covers every credential failure: unknown username,
// wrong password, bad or expired token, subject deleted after the token
// was issued. Callers get no hint which one it was.
var ErrUnauthorized = errors.New("could not validate credentials")

type AuthService struct {
	userRepo Repository
	cfg      config.Auth
}

type Repository interface {
	CreateUser(context.Context, models.User) (int, error)
	GetUser(context.Context, string) (models.User, error)
	ListUsers(context.Context) ([]models.User, error)
	DeleteUser(context.Context, string) error
}

func New(userRepo Repository, cfg config.Auth) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		cfg:      cfg,
	}
}

func (as *AuthService) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	cost := as.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		return models.User{}, fmt.Errorf("generate from password error: %w", err)
	}

	var u models.User

	u.Username = req.Username
	u.PasswordHash = string(hash)

	id, err := as.userRepo.CreateUser(ctx, u)
	if err != nil {
		return models.User{}, fmt.Errorf("create user error: %w", err)
	}

	u.ID = id

	return u, nil
}

// Login verifies the password against the stored bcrypt hash and issues
// a token for the username. bcrypt's comparison is constant-time with
// respect to the secret material.
func (as *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	u, err := as.userRepo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return "", ErrUnauthorized
		}

		return "", fmt.Errorf("get user error: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrUnauthorized
	}

	token, err := jwtauth.GetToken(u.Username, as.cfg.TTL, as.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("can't get token error: %w", err)
	}

	return token, nil
}

// Authenticate resolves a bearer token to the user it was issued for.
// Tokens are not revocable: one issued before a self-delete stays
// syntactically valid until expiry, and the lookup miss is what turns
// it into ErrUnauthorized.
func (as *AuthService) Authenticate(ctx context.Context, token string) (models.User, error) {
	subject, err := jwtauth.ValidateToken(token, as.cfg.Secret)
	if err != nil {
		return models.User{}, ErrUnauthorized
	}

	u, err := as.userRepo.GetUser(ctx, subject)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return models.User{}, ErrUnauthorized
		}

		return models.User{}, fmt.Errorf("get user error: %w", err)
	}

	return u, nil
}

func (as *AuthService) DeleteUser(ctx context.Context, username string) error {
	if err := as.userRepo.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("delete user error: %w", err)
	}

	return nil
}

func (as *AuthService) Users(ctx context.Context) ([]models.User, error) {
	users, err := as.userRepo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users error: %w", err)
	}

	return users, nil
}
