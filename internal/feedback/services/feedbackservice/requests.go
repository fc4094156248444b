package feedbackservice

type CreateItemRequest struct {
	Title string `json:"title"`
}

type RateRequest struct {
	ItemID int `json:"item_id"` //nolint:tagliatelle
	Rating int `json:"rating"`
}
