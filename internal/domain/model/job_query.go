package model

// DefaultListLimit is used when a caller does not bound a listing.
const DefaultListLimit = 100

// MaxListLimit caps owner listings.
const MaxListLimit = 1000

// ListByOwnerOptions filters a per-owner job listing.
type ListByOwnerOptions struct {
	Owner  string
	Status *JobStatus
	Limit  int
}

// Normalize applies the default and maximum limit.
func (o *ListByOwnerOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
}
