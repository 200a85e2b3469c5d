package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin           UserRole = "ADMIN"
	RolePhysiotherapist UserRole = "PHYSIOTHERAPIST"
	RolePatient         UserRole = "PATIENT"
)

// User represents an application user stored in the users table. Profile
// columns beyond the common block are role specific: physiotherapists carry
// practice metadata and city coverage, patients carry age and home city.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Gender       string     `db:"gender" json:"gender,omitempty"`
	MobileNumber string     `db:"mobile_number" json:"mobile_number,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	// Physiotherapist profile.
	DateOfBirth     *string        `db:"date_of_birth" json:"date_of_birth,omitempty"`
	PracticingSince *string        `db:"practicing_since" json:"practicing_since,omitempty"`
	Degrees         pq.StringArray `db:"degrees" json:"degrees,omitempty"`
	Specialties     pq.StringArray `db:"specialties" json:"specialties,omitempty"`
	CitiesAvailable pq.StringArray `db:"cities_available" json:"cities_available,omitempty"`
	ClinicAddresses pq.StringArray `db:"clinic_addresses" json:"clinic_addresses,omitempty"`

	// Patient profile.
	Age  *int   `db:"age" json:"age,omitempty"`
	City string `db:"city" json:"city,omitempty"`
}

// ServesCity reports whether the physiotherapist covers the given city.
// City names match exactly, as declared during signup.
func (u *User) ServesCity(city string) bool {
	for _, c := range u.CitiesAvailable {
		if c == city {
			return true
		}
	}
	return false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	City      string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
