package types

import "time"

// Dashboard, Panel, Variable, Annotation, SavedSearch, FieldPreference and
// FieldExtractionRule are the catalog entities spec.md §3/§6 names as the
// public contract of the catalog store. IDs are opaque strings (the
// catalog package mints them with google/uuid); callers must not assume
// any structure.
type Dashboard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Panel struct {
	ID          string    `json:"id"`
	DashboardID string    `json:"dashboard_id"`
	Title       string    `json:"title"`
	Query       string    `json:"query"`
	VizType     string    `json:"viz_type"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Variable struct {
	ID          string    `json:"id"`
	DashboardID string    `json:"dashboard_id"`
	Name        string    `json:"name"`
	Query       string    `json:"query"` // query used to populate variable values
	Default     string    `json:"default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Annotation attaches a note to a field+value combination, e.g. marking
// a deploy at a point in time for a given host (§3).
type Annotation struct {
	ID        string    `json:"id"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SavedSearch is a named, re-runnable DSL query (SPEC_FULL §4 supplement).
type SavedSearch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Query     string    `json:"query"`
	Earliest  string    `json:"earliest,omitempty"`
	Latest    string    `json:"latest,omitempty"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldPreference records a per-user/per-field display preference (order,
// pinned status); kept intentionally minimal since the UI layer that
// consumes it is out of scope (§1).
type FieldPreference struct {
	ID        string    `json:"id"`
	FieldName string    `json:"field_name"`
	Pinned    bool      `json:"pinned"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldExtractionRule is the catalog-resident form of a §4.6 "user
// pattern": a regex or Grok template ordered by ascending Priority.
type FieldExtractionRule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Pattern   string    `json:"pattern"`
	IsGrok    bool      `json:"is_grok"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}
