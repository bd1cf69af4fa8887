package domain

import "time"

// Snapshot is the persisted form of one parameterized object's values.
// Only plain parameters are stored; nested objects and computed values are
// rebuilt by the application.
type Snapshot struct {
	Key     string         `json:"key"`
	Object  string         `json:"object"`
	Values  map[string]any `json:"values"`
	SavedAt time.Time      `json:"saved_at"`
}
