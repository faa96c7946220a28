package domain

import "time"

// QueueGroup is a named bucket of incidents for one service center, defined
// by a member set of grandparent-family IDs.
type QueueGroup struct {
	ID              string
	ServiceCenterID string
	Name            string
	Color           string
	DisplayOrder    int
	Active          bool
	MemberFamilyIDs []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Contains reports whether the group covers the given grandparent family.
func (g *QueueGroup) Contains(familyID string) bool {
	for _, id := range g.MemberFamilyIDs {
		if id == familyID {
			return true
		}
	}
	return false
}
