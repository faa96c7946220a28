package dto

// ReassignRequest moves a held incident to another technician.
type ReassignRequest struct {
	FromTechnicianID string `json:"from_technician_id" validate:"required"`
	ToTechnicianID   string `json:"to_technician_id" validate:"required"`
	Reason           string `json:"reason" validate:"required"`
}

// UnassignRequest returns a held incident to its queue.
type UnassignRequest struct {
	Reason string `json:"reason"`
}

// QueueDepthResponse pairs a group with its eligible-incident count.
type QueueDepthResponse struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	Depth     int    `json:"depth"`
}
