package feedbackrepo

import "errors"

var (
	ErrItemNotFound = errors.New("item not found")
	ErrTitleTaken   = errors.New("item with this title already exists")
	ErrAlreadyRated = errors.New("user has already rated this item")
	ErrRatingRange  = errors.New("rating must be between 1 and 5")
)
