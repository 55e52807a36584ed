package service

import (
	"strings"
)

// User is a stored directory record.
type User struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// NewUser carries the fields of a user that has not been assigned an id yet.
type NewUser struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// WithID returns the stored form of u.
func (u NewUser) WithID(id int) User {
	return User{
		ID:      id,
		Name:    u.Name,
		Email:   u.Email,
		Address: u.Address,
		Phone:   u.Phone,
	}
}

// Validate reports the first missing field, if any.
func (u NewUser) Validate() error {
	switch {
	case strings.TrimSpace(u.Name) == "":
		return errMissingField("name")
	case strings.TrimSpace(u.Email) == "":
		return errMissingField("email")
	case strings.TrimSpace(u.Address) == "":
		return errMissingField("address")
	case strings.TrimSpace(u.Phone) == "":
		return errMissingField("phone")
	}
	return nil
}

// SampleRequest is what the service asks a Sampler for.
type SampleRequest struct {
	Prompt    string
	MaxTokens int
}
