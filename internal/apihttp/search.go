package apihttp

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/portfolio-web/internal/portfolio"
	"github.com/keithlinneman/portfolio-web/internal/validate"
)

const (
	MaxQueryLength     = 200
	DefaultSearchLimit = 10
	MaxSearchLimit     = 25
)

type searchResponse struct {
	Query   string          `json:"query"`
	Results []portfolio.Hit `json:"results"`
}

// HandleSearch runs a keyword search over the portfolio.
func (api *API) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.site == nil {
		api.writeUnavailable(ctx, w, "search")
		return
	}

	q := r.URL.Query()
	query, err := validate.SafeText(q.Get("q"), MaxQueryLength)
	if err != nil {
		api.writeInvalid(ctx, w, "search", "q", validate.Reason(err))
		return
	}

	limit := DefaultSearchLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxSearchLimit {
			api.writeInvalid(ctx, w, "search", "limit", "out_of_range")
			return
		}
		limit = n
	}

	hits := api.site.Search(query, limit)
	if hits == nil {
		hits = []portfolio.Hit{}
	}
	api.writeJSON(ctx, w, http.StatusOK, searchResponse{Query: query, Results: hits})
}
