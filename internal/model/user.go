package model

import "strings"

// User is the read-only projection of a platform user.
type User struct {
	ID        string `json:"_id"`
	Username  string `json:"username,omitempty"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName returns the best human readable name for the user.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.Firstname + " " + u.Lastname)
	switch {
	case full != "":
		return full
	case u.Username != "":
		return u.Username
	default:
		return u.ID
	}
}
