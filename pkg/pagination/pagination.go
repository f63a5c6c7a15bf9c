package pagination

import (
	"net/http"
	"strconv"
)

// Limits bounds the page size accepted by FromRequest.
type Limits struct {
	Default int
	Max     int
}

// Params holds limit/offset paging parameters extracted from query strings.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FromRequest reads "limit" and "offset" from the query string. Missing or
// unparsable values fall back to the defaults; limit is clamped to
// [1, Max] and offset to >= 0.
func FromRequest(r *http.Request, l Limits) Params {
	q := r.URL.Query()
	p := Params{Limit: l.Default}

	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			p.Limit = v
		}
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	if l.Max > 0 && p.Limit > l.Max {
		p.Limit = l.Max
	}

	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			p.Offset = v
		}
	}

	return p
}
