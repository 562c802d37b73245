package router

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a governance capability.
type Role string

const (
	// RoleAdmin manages the registry, fees, wrappers, roles and the
	// emergency surface. Admins can also pause and unpause.
	RoleAdmin Role = "admin"
	// RoleOperator is reserved; no operations require it yet.
	RoleOperator Role = "operator"
	// RoleGuardian may pause the router but not unpause it.
	RoleGuardian Role = "guardian"
)

// accessControl holds the address sets behind each role.
type accessControl struct {
	mu    sync.RWMutex
	roles map[Role]map[common.Address]bool
}

func newAccessControl(admin common.Address) *accessControl {
	ac := &accessControl{roles: map[Role]map[common.Address]bool{
		RoleAdmin:    {admin: true},
		RoleOperator: {},
		RoleGuardian: {},
	}}
	return ac
}

func (ac *accessControl) has(role Role, addr common.Address) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.roles[role][addr]
}

func (ac *accessControl) grant(role Role, addr common.Address) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.roles[role] == nil {
		ac.roles[role] = make(map[common.Address]bool)
	}
	ac.roles[role][addr] = true
}

func (ac *accessControl) revoke(role Role, addr common.Address) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	delete(ac.roles[role], addr)
}

// HasRole reports whether addr holds role.
func (r *Router) HasRole(role Role, addr common.Address) bool {
	return r.access.has(role, addr)
}

// GrantRole assigns role to addr. Admin only.
func (r *Router) GrantRole(caller common.Address, role Role, addr common.Address) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	switch role {
	case RoleAdmin, RoleOperator, RoleGuardian:
	default:
		return fmt.Errorf("unknown role %q: %w", role, ErrUnauthorized)
	}
	r.access.grant(role, addr)
	r.log.Info("Role granted",
		zapRole(role), zapAddr("address", addr), zapAddr("by", caller))
	return nil
}

// RevokeRole removes role from addr. Admin only.
func (r *Router) RevokeRole(caller common.Address, role Role, addr common.Address) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	r.access.revoke(role, addr)
	r.log.Info("Role revoked",
		zapRole(role), zapAddr("address", addr), zapAddr("by", caller))
	return nil
}

func (r *Router) requireRole(caller common.Address, roles ...Role) error {
	for _, role := range roles {
		if r.access.has(role, caller) {
			return nil
		}
	}
	return fmt.Errorf("caller %s: %w", caller.Hex(), ErrUnauthorized)
}
