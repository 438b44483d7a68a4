package model

import "time"

// Appointment is the aggregate root of the status board. Version is the
// optimistic concurrency token: it starts at 1 and every successful mutation
// increments it by exactly one.
type Appointment struct {
	ID          string
	Status      Status
	Version     int64
	Position    int32
	TechID      string
	StartTime   time.Time
	EndTime     time.Time
	CheckInAt   *time.Time
	CheckOutAt  *time.Time
	TotalAmount int64 // cents; owned by the services module, read here for sums
	PaidAmount  int64 // cents; owned by the payments module
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
