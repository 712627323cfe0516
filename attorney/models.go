package attorney

import "time"

// Profile captures the subset of attorney data exposed to assignment flows
// and the public API layer.
type Profile struct {
	ID         string
	Name       string
	Title      string
	Email      string
	Assignable bool
	CreatedAt  time.Time
}
