package order

// Status is the order lifecycle owned by the canteen collaborator.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StatusChange is the message published by the order collaborator.
type StatusChange struct {
	OrderID string `json:"order_id" validate:"required"`
	Status  Status `json:"status" validate:"required,oneof=pending preparing ready completed cancelled"`
}
