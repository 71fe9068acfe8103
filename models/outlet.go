package models

import "time"

// Outlet represents a physical laundry shop, the tenant unit
type Outlet struct {
	ID          int64     `json:"id" db:"id"`
	OwnerUserID int64     `json:"owner_user_id" db:"owner_user_id"`
	Name        string    `json:"name" db:"name"`
	Address     *string   `json:"address" db:"address"`
	Phone       *string   `json:"phone" db:"phone"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Outlet model
func (Outlet) TableName() string {
	return "outlets"
}

// NewOutlet creates a new active Outlet owned by ownerID
func NewOutlet(ownerID int64, name string, address, phone *string) *Outlet {
	now := time.Now().UTC()
	return &Outlet{
		OwnerUserID: ownerID,
		Name:        name,
		Address:     address,
		Phone:       phone,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
