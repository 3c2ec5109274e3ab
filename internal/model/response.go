package model

// ErrorResponse is the envelope for every error the API returns. Failure
// responses carry exactly one field so that no internal detail can leak.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse is the envelope for list endpoints.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}
