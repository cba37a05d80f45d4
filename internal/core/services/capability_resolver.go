package services

import (
	"rolechat/internal/core/domain"
)

var roleActions = map[domain.RoleName][]domain.Action{
	domain.RoleModerator:   {domain.ActionSubscribe, domain.ActionPublish, domain.ActionPresence, domain.ActionHistory},
	domain.RoleParticipant: {domain.ActionSubscribe, domain.ActionPublish, domain.ActionPresence},
	domain.RoleViewer:      {domain.ActionSubscribe},
}

// ResolveCapability maps role assignments to realtime channel permissions.
//
// Holding moderator or admin on the mod channel grants the wildcard
// capability and sets isMod. Otherwise each channel-scoped assignment adds
// its role's actions under "chat:<channel>". Global assignments grant no
// channel access on their own.
func ResolveCapability(assignments []domain.RoleAssignment) (domain.Capability, domain.RoleClaim) {
	modInstance := domain.ChannelInstance(domain.ModChannelKey)
	for _, a := range assignments {
		if (a.Role == domain.RoleModerator || a.Role == domain.RoleAdmin) && a.ResourceInstance == modInstance {
			return domain.WildcardCapability(), domain.RoleClaim{IsMod: true}
		}
	}

	granted := make(map[string]map[domain.Action]bool)
	for _, a := range assignments {
		if a.ResourceInstance == "" {
			continue
		}
		actions, ok := roleActions[a.Role]
		if !ok {
			continue
		}
		channel := domain.ChatChannel(domain.ChannelKeyFromInstance(a.ResourceInstance))
		set, ok := granted[channel]
		if !ok {
			set = make(map[domain.Action]bool)
			granted[channel] = set
		}
		for _, action := range actions {
			set[action] = true
		}
	}

	capability := domain.Capability{}
	for channel, set := range granted {
		actions := make([]domain.Action, 0, len(set))
		for _, action := range domain.ActionOrder {
			if set[action] {
				actions = append(actions, action)
			}
		}
		capability[channel] = actions
	}

	return capability, domain.RoleClaim{IsMod: false}
}
