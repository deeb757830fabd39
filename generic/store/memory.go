// Package store provides in-memory implementations of generic interfaces.
package store

import (
	"sort"
	"sync"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// GRANT TABLE - In-memory Authorizer (service grants and per-request token grants)
// =============================================================================

type grantKey struct {
	principal  string
	capability generic.Capability
	scope      generic.Scope
}

// Grants is a concurrency-safe set of capability grants.
type Grants struct {
	mu     sync.RWMutex
	grants map[grantKey]bool
}

func NewGrants(grants ...generic.Grant) *Grants {
	g := &Grants{grants: make(map[grantKey]bool)}
	for _, gr := range grants {
		g.Add(gr)
	}
	return g
}

func (g *Grants) Add(gr generic.Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[grantKey{gr.PrincipalID, gr.Capability, gr.Scope}] = true
}

func (g *Grants) Revoke(gr generic.Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, grantKey{gr.PrincipalID, gr.Capability, gr.Scope})
}

// HasCapability implements generic.Authorizer. A global grant satisfies any
// scope; a scoped grant only its own account.
func (g *Grants) HasCapability(p generic.Principal, c generic.Capability, scope generic.Scope) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.grants[grantKey{p.ID, c, generic.GlobalScope}] {
		return true
	}
	if scope == generic.GlobalScope {
		return false
	}
	return g.grants[grantKey{p.ID, c, scope}]
}

// For returns the grants held by principalID, ordered for display.
func (g *Grants) For(principalID string) []generic.Grant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []generic.Grant
	for k := range g.grants {
		if k.principal == principalID {
			out = append(out, generic.Grant{PrincipalID: k.principal, Capability: k.capability, Scope: k.scope})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capability != out[j].Capability {
			return out[i].Capability < out[j].Capability
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}
