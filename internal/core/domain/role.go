package domain

import "strings"

type RoleName string

const (
	RoleViewer      RoleName = "viewer"
	RoleParticipant RoleName = "participant"
	RoleModerator   RoleName = "moderator"
	RoleAdmin       RoleName = "admin"
)

const (
	DefaultTenant       = "default"
	ResourceTypeChannel = "channel"
	ModChannelKey       = "mod"
	DefaultChannelKey   = "general"
)

// Global roles are never scoped to a resource instance.
func (r RoleName) Global() bool {
	return r == RoleViewer || r == RoleAdmin
}

func (r RoleName) Valid() bool {
	switch r {
	case RoleViewer, RoleParticipant, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// RoleAssignment binds a user to a role in a tenant, optionally scoped to a
// resource instance ("channel:<key>").
type RoleAssignment struct {
	User             string   `json:"user,omitempty"`
	Role             RoleName `json:"role"`
	Tenant           string   `json:"tenant"`
	ResourceInstance string   `json:"resource_instance,omitempty"`
}

// ResourceInstance is a channel tracked by the authorization service.
type ResourceInstance struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Resource string `json:"resource"`
	Tenant   string `json:"tenant"`
}

// Ref is the "<resource>:<key>" form used in role assignments.
func (r ResourceInstance) Ref() string {
	return r.Resource + ":" + r.Key
}

// ChannelInstance returns the resource-instance reference for a channel key.
func ChannelInstance(key string) string {
	return ResourceTypeChannel + ":" + key
}

// ChannelKeyFromInstance extracts the channel key from a resource-instance
// reference. References without a prefix are returned unchanged.
func ChannelKeyFromInstance(instance string) string {
	if _, key, ok := strings.Cut(instance, ":"); ok {
		return key
	}
	return instance
}

// HoldsRoleOnAnyChannel reports whether role appears in assignments scoped to
// some resource instance.
func HoldsRoleOnAnyChannel(assignments []RoleAssignment, role RoleName) bool {
	for _, a := range assignments {
		if a.Role == role && a.ResourceInstance != "" {
			return true
		}
	}
	return false
}
