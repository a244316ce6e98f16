package api

import (
	"net/http"
	"time"

	"activewatcher/internal/reports"
	"activewatcher/internal/store"
)

// Query parameter bounds.
const (
	defaultChunkSeconds = 300
	minChunkSeconds     = 30
	maxChunkSeconds     = 30 * 24 * 3600
	defaultAppsLimit    = 500
	maxAppsLimit        = 5000
)

// window resolves the from/to parameters. A missing to is now and a
// missing from is to minus span.
func (a *API) window(p *QueryParamParser, r *http.Request, span time.Duration) (time.Time, time.Time) {
	vals := r.URL.Query()
	to := p.Time(vals, "to")
	from := p.Time(vals, "from")
	return reports.ResolveRange(a.reports.Loader().Now(), from, to, span)
}

func (a *API) badQuery(w http.ResponseWriter, p *QueryParamParser) bool {
	if len(p.Errors) == 0 {
		return false
	}
	Write(w, http.StatusUnprocessableEntity, p.Response())
	return true
}

func filterFrom(p *QueryParamParser, r *http.Request) store.Filter {
	vals := r.URL.Query()
	return store.Filter{
		Bucket: p.String(vals, "", "bucket"),
		Source: p.String(vals, "", "source"),
	}
}

func (a *API) getRange(w http.ResponseWriter, r *http.Request) {
	p := NewQueryParamParser()
	f := filterFrom(p, r)

	res, err := a.reports.Range(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	Write(w, http.StatusOK, res)
}

func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	p := NewQueryParamParser()
	f := filterFrom(p, r)
	from, to := a.window(p, r, reports.DefaultEventsSpan)
	if a.badQuery(w, p) {
		return
	}

	start := time.Now()
	res, err := a.reports.Events(r.Context(), f, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.metrics.ObserveReport("events", time.Since(start))
	Write(w, http.StatusOK, res)
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	p := NewQueryParamParser()
	from, to := a.window(p, r, reports.DefaultEventsSpan)
	chunk := p.IntRange(r.URL.Query(), defaultChunkSeconds, minChunkSeconds, maxChunkSeconds, "chunk_seconds")
	if a.badQuery(w, p) {
		return
	}

	start := time.Now()
	res, err := a.reports.Summary(r.Context(), from, to, chunk)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.metrics.ObserveReport("summary", time.Since(start))
	Write(w, http.StatusOK, res)
}

func (a *API) getApps(w http.ResponseWriter, r *http.Request) {
	p := NewQueryParamParser()
	from, to := a.window(p, r, reports.DefaultHistorySpan)
	limit := p.IntRange(r.URL.Query(), defaultAppsLimit, 1, maxAppsLimit, "limit")
	if a.badQuery(w, p) {
		return
	}

	start := time.Now()
	res, err := a.reports.Apps(r.Context(), from, to, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.metrics.ObserveReport("apps", time.Since(start))
	Write(w, http.StatusOK, res)
}

func (a *API) getHeatmap(w http.ResponseWriter, r *http.Request) {
	p := NewQueryParamParser()
	vals := r.URL.Query()
	from, to := a.window(p, r, reports.DefaultHistorySpan)
	q := reports.HeatmapQuery{
		From: from,
		To:   to,
		TZ:   p.String(vals, "UTC", "tz"),
		Mode: p.String(vals, reports.ModeAuto, "mode"),
		Apps: p.Strings(vals, "app"),
	}
	if a.badQuery(w, p) {
		return
	}

	start := time.Now()
	res, err := a.reports.Heatmap(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.metrics.ObserveReport("heatmap", time.Since(start))
	Write(w, http.StatusOK, res)
}
