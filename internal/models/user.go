package models

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type User struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Email            string    `json:"email" db:"email"`
	Name             string    `json:"name,omitempty" db:"name"`
	Plan             Plan      `json:"plan" db:"plan"`
	StripeCustomerID *string   `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

func (u *User) IsPro() bool {
	return u.Plan == PlanPro
}

// Identity is derived per request from the caller's credentials. UserID is
// nil for anonymous callers, who are counted by IP.
type Identity struct {
	UserID    *uuid.UUID
	Email     string
	Name      string
	Plan      Plan
	IP        string
	ViaAPIKey bool
}

func Anonymous(ip string) Identity {
	return Identity{Plan: PlanFree, IP: ip}
}

func (i Identity) IsPro() bool {
	return i.Plan == PlanPro
}

func (i Identity) IsAuthenticated() bool {
	return i.UserID != nil
}

// Subject returns the key the quota ledger counts this identity by.
func (i Identity) Subject() string {
	if i.UserID != nil {
		return "user:" + i.UserID.String()
	}
	return "ip:" + i.IP
}

type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"-" db:"user_id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	Name       string     `json:"name" db:"name"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	RevokedAt  *time.Time `json:"-" db:"revoked_at"`
}

func (k *APIKey) IsActive() bool {
	return k.RevokedAt == nil
}
