package domain

import "time"

// User is a chat participant as known to the authorization service.
type User struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Email     string           `json:"email,omitempty"`
	FirstName string           `json:"first_name,omitempty"`
	LastName  string           `json:"last_name,omitempty"`
	Name      string           `json:"name,omitempty"`
	AvatarURL string           `json:"image,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Roles     []RoleAssignment `json:"roles"`
}

// UserProfile is what a sign-in supplies about a user.
type UserProfile struct {
	Key       string
	Email     string
	FirstName string
	LastName  string
}

// Identity is the authenticated caller of a request.
type Identity struct {
	Key       string
	Name      string
	AvatarURL string
}

func (u *User) IsModerator() bool {
	return HoldsRoleOnAnyChannel(u.Roles, RoleModerator)
}
