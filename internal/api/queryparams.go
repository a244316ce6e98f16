package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"activewatcher/internal/timefmt"
)

// QueryParamParser gathers every invalid query parameter in one sweep.
type QueryParamParser struct {
	Errors []Error
}

func NewQueryParamParser() *QueryParamParser {
	return &QueryParamParser{Errors: []Error{}}
}

// Time parses an RFC 3339 timestamp with an explicit offset. A missing or
// empty parameter yields nil.
func (p *QueryParamParser) Time(vals url.Values, queryParam string) *time.Time {
	v := vals.Get(queryParam)
	if v == "" {
		return nil
	}
	ts, err := timefmt.Parse(v)
	if err != nil {
		p.Errors = append(p.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("invalid timestamp: %s", v),
		})
		return nil
	}
	return &ts
}

// IntRange parses an integer that must lie in [lo, hi].
func (p *QueryParamParser) IntRange(vals url.Values, def, lo, hi int, queryParam string) int {
	v := strings.TrimSpace(vals.Get(queryParam))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.Errors = append(p.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must be a valid integer (%s)", queryParam, err.Error()),
		})
		return def
	}
	if n < lo || n > hi {
		p.Errors = append(p.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must be between %d and %d", queryParam, lo, hi),
		})
		return def
	}
	return n
}

func (*QueryParamParser) String(vals url.Values, def string, queryParam string) string {
	if !vals.Has(queryParam) {
		return def
	}
	return vals.Get(queryParam)
}

// Strings returns every value of a repeated parameter.
func (*QueryParamParser) Strings(vals url.Values, queryParam string) []string {
	return vals[queryParam]
}

// Response summarizes the collected errors. The first error's detail is
// the message.
func (p *QueryParamParser) Response() Response {
	return Response{Message: p.Errors[0].Detail, Errors: p.Errors}
}
