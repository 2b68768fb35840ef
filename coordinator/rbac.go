package coordinator

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/quorumfeed/quorumfeed/types"
)

// GrantRole gives an address a capability at the coordinator boundary.
func (c *Coordinator) GrantRole(address string, role types.Role) {
	c.rolesMu.Lock()
	defer c.rolesMu.Unlock()
	if c.roles[address] == nil {
		c.roles[address] = make(map[types.Role]bool)
	}
	c.roles[address][role] = true
}

// RevokeRole removes a capability from an address.
func (c *Coordinator) RevokeRole(address string, role types.Role) {
	c.rolesMu.Lock()
	defer c.rolesMu.Unlock()
	delete(c.roles[address], role)
}

// HasRole reports whether an address carries a role.
func (c *Coordinator) HasRole(address string, role types.Role) bool {
	c.rolesMu.RLock()
	defer c.rolesMu.RUnlock()
	return c.roles[address][role]
}

func (c *Coordinator) requireRole(address string, role types.Role) error {
	if !c.HasRole(address, role) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s lacks role %s", address, role)
	}
	return nil
}
