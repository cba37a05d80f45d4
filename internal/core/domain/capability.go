package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Action string

const (
	ActionSubscribe Action = "subscribe"
	ActionPublish   Action = "publish"
	ActionPresence  Action = "presence"
	ActionHistory   Action = "history"
	ActionAny       Action = "*"
)

// ActionOrder is the canonical order actions appear in within a capability.
var ActionOrder = []Action{ActionSubscribe, ActionPublish, ActionPresence, ActionHistory}

const (
	ChatChannelPrefix = "chat"
	AnyChannel        = "*"
)

// ChatChannel returns the realtime channel name for a channel key.
func ChatChannel(key string) string {
	return ChatChannelPrefix + ":" + key
}

// Capability maps a realtime channel name (or pattern) to allowed actions.
type Capability map[string][]Action

// WildcardCapability grants every action on every channel.
func WildcardCapability() Capability {
	return Capability{AnyChannel: {ActionAny}}
}

func (c Capability) IsWildcard() bool {
	actions, ok := c[AnyChannel]
	return ok && len(actions) == 1 && actions[0] == ActionAny
}

// Allows checks channel against exact names, "*" and "<prefix>:*" patterns.
func (c Capability) Allows(channel string, action Action) bool {
	for pattern, actions := range c {
		if !channelMatches(pattern, channel) {
			continue
		}
		for _, a := range actions {
			if a == ActionAny || a == action {
				return true
			}
		}
	}
	return false
}

func channelMatches(pattern, channel string) bool {
	if pattern == AnyChannel || pattern == channel {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return strings.HasPrefix(channel, prefix+":")
	}
	return false
}

// Encode serializes the capability as the JSON string carried in a token.
func (c Capability) Encode() (string, error) {
	if c == nil {
		c = Capability{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode capability: %w", err)
	}
	return string(b), nil
}

// DecodeCapability parses the JSON string form of a capability.
func DecodeCapability(raw string) (Capability, error) {
	c := Capability{}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("%w: capability: %v", ErrInvalidToken, err)
	}
	return c, nil
}

// RoleClaim is the custom role claim embedded next to the capability.
type RoleClaim struct {
	IsMod bool `json:"isMod"`
}

func (r RoleClaim) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode role claim: %w", err)
	}
	return string(b), nil
}

func DecodeRoleClaim(raw string) (RoleClaim, error) {
	var r RoleClaim
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return RoleClaim{}, fmt.Errorf("%w: role claim: %v", ErrInvalidToken, err)
	}
	return r, nil
}
