package server

import (
	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
)

type ListUsersResponse struct {
	Users []models.User `json:"users"`
}

type RegisterResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:tagliatelle
	TokenType   string `json:"token_type"`   //nolint:tagliatelle
	Username    string `json:"username"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
