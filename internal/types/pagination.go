package types

// PaginationResponse describes the page returned by a list endpoint.
type PaginationResponse struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func NewPaginationResponse(total, limit, offset int) *PaginationResponse {
	return &PaginationResponse{
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
}
