package item

import "time"

// Category is the priority class of an item.
type Category string

const (
	CategoryUrgent Category = "urgent"
	CategoryMedium Category = "medium"
	CategorySmall  Category = "small"
)

// Categories lists every valid category from highest to lowest weight.
var Categories = []Category{CategoryUrgent, CategoryMedium, CategorySmall}

// Weight returns the fixed triage weight of the category, 0 for unknown values.
func (c Category) Weight() int {
	switch c {
	case CategoryUrgent:
		return 3
	case CategoryMedium:
		return 2
	case CategorySmall:
		return 1
	default:
		return 0
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c.Weight() > 0
}

// ParseCategory converts s to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: "must be one of urgent, medium, small"}
	}
	return c, nil
}

// Role is the authorization role of a principal.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Principal is an authenticated actor. Role is informational; privileged
// operations re-read it from the RoleSource.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Item is a tracked help request.
type Item struct {
	ID          string     `json:"id"`
	PersonName  string     `json:"person_name"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy so callers never share ResolvedAt.
func (it *Item) Clone() *Item {
	cp := *it
	if it.ResolvedAt != nil {
		t := *it.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// NewItem is the caller-supplied part of an item at creation.
type NewItem struct {
	PersonName  string   `json:"person_name"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
}

// Filter selects open items. An empty Categories set selects nothing.
type Filter struct {
	Text       string
	Categories []Category
}

// AllCategories returns a filter matching every open item.
func AllCategories() Filter {
	return Filter{Categories: append([]Category(nil), Categories...)}
}
