package domain

const (
	PolicyActionPromote = "promote"
	PolicyActionDemote  = "demote"
	PolicyActionRead    = "read"
	PolicyActionWrite   = "write"
)

// EvaluatePolicy is the channel policy used by locally stored role data:
// admins and channel moderators may promote and demote, participants may
// write, anyone holding a role may read.
func EvaluatePolicy(assignments []RoleAssignment, action, resourceType string) bool {
	if resourceType != ResourceTypeChannel {
		return false
	}

	for _, a := range assignments {
		switch action {
		case PolicyActionPromote, PolicyActionDemote:
			if a.Role == RoleAdmin || (a.Role == RoleModerator && a.ResourceInstance != "") {
				return true
			}
		case PolicyActionWrite:
			if a.Role == RoleAdmin || a.Role == RoleModerator || a.Role == RoleParticipant {
				return true
			}
		case PolicyActionRead:
			if a.Role.Valid() {
				return true
			}
		}
	}
	return false
}
