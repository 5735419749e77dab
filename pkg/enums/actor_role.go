package enums

import (
	"fmt"
	"strings"
)

// ActorRole is the authenticated party role carried in access tokens.
type ActorRole string

const (
	ActorRoleShopOwner ActorRole = "shop_owner"
	ActorRoleFarmer    ActorRole = "farmer"
	ActorRoleBuyer     ActorRole = "buyer"
	ActorRoleAdmin     ActorRole = "admin"
)

var validActorRoles = []ActorRole{
	ActorRoleShopOwner,
	ActorRoleFarmer,
	ActorRoleBuyer,
	ActorRoleAdmin,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is known.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "owner" {
		normalized = string(ActorRoleShopOwner)
	}
	for _, candidate := range validActorRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
