package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Params holds page-numbered pagination parameters. Pages start at 1.
type Params struct {
	Page  int
	Limit int
}

// New normalizes page and limit into usable values.
func New(page, limit int) Params {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit}
}

// FromContext extracts page and limit from the echo request query.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return New(page, limit)
}

// Values renders the parameters as query values.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	return v
}

// Offset returns the zero-based index of the first item on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Next returns the parameters for the following page.
func (p Params) Next() Params {
	return Params{Page: p.Page + 1, Limit: p.Limit}
}

// IsLast reports whether a page that returned n items ends the stream:
// an empty page or a short page (fewer than Limit items).
func (p Params) IsLast(n int) bool {
	return n == 0 || n < p.Limit
}

// Window returns the slice bounds of this page over a collection of total
// items, clamped to the collection.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset()
	if start > total {
		start = total
	}
	end = start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}
