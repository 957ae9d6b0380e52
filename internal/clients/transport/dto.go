package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

// ConvertLeadRequest is the client draft supplied when converting a lead.
type ConvertLeadRequest struct {
	Name     string  `json:"name" validate:"required,min=1,max=100"`
	Email    string  `json:"email" validate:"required,email,max=255"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,min=4,max=30"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
}

type UpdateProgressRequest struct {
	DeliveryProgress *int `json:"deliveryProgress" validate:"required,min=0,max=100"`
}

// Response DTOs

type ClientResponse struct {
	ID               uuid.UUID `json:"id"`
	LeadID           uuid.UUID `json:"leadId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            *string   `json:"phone,omitempty"`
	DeliveryProgress int       `json:"deliveryProgress"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type ClientListResponse struct {
	Items []ClientResponse `json:"items"`
	Total int              `json:"total"`
}
