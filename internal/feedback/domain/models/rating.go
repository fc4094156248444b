package models

// Rating is one user's feedback for one item. A (UserID, ItemID) pair
// appears at most once and Rating stays within 1..5, both enforced by
// the storage constraints.
type Rating struct {
	ID     int `json:"id"`
	UserID int `json:"user_id"` //nolint:tagliatelle
	ItemID int `json:"item_id"` //nolint:tagliatelle
	Rating int `json:"rating"`
}
