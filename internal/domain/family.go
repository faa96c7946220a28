package domain

import "time"

// Family is a node in the product classification tree. A family with a nil
// parent is itself a grandparent family.
type Family struct {
	ID        string
	Name      string
	ParentID  *string
	CreatedAt time.Time
}

// Product is immutable reference data describing a serviceable item.
type Product struct {
	ID        string
	Name      string
	SKU       string
	FamilyID  *string
	CreatedAt time.Time
}
