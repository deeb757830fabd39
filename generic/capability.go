package generic

import "context"

// =============================================================================
// CAPABILITIES - Permission tokens consumed from the authorization collaborator
// =============================================================================

// Capability is a named permission.
type Capability string

const (
	CapEngageExpense  Capability = "engage_expense"
	CapManageExpense  Capability = "manage_expense"
	CapControlExpense Capability = "control_expense"
	CapManageProject  Capability = "manage_project"
	CapControlProject Capability = "control_project"
)

// AllCapabilities lists the tokens this engine understands.
var AllCapabilities = []Capability{
	CapEngageExpense, CapManageExpense, CapControlExpense,
	CapManageProject, CapControlProject,
}

// Scope restricts a capability check to one account. GlobalScope means
// "held globally".
type Scope string

const GlobalScope Scope = ""

// AccountScope scopes a check to an account.
func AccountScope(accountID string) Scope { return Scope(accountID) }

// Principal is the acting user as seen by the engine.
type Principal struct {
	ID   string
	Name string
}

// SystemPrincipal is used for side effects not triggered by a person.
var SystemPrincipal = Principal{ID: "system", Name: "system"}

// Authorizer answers capability questions.
//
// HasCapability(p, c, GlobalScope) is true only for a global grant.
// HasCapability(p, c, AccountScope(a)) is true for a global grant or a grant
// scoped to account a.
type Authorizer interface {
	HasCapability(p Principal, c Capability, scope Scope) bool
}

// AuthorizerFunc adapts a function.
type AuthorizerFunc func(p Principal, c Capability, scope Scope) bool

func (f AuthorizerFunc) HasCapability(p Principal, c Capability, scope Scope) bool {
	return f(p, c, scope)
}

type authorizerKey struct{}

// WithAuthorizer binds az to ctx. Capability checks made on behalf of this
// context use az instead of the service-wide authorizer.
func WithAuthorizer(ctx context.Context, az Authorizer) context.Context {
	return context.WithValue(ctx, authorizerKey{}, az)
}

// AuthorizerFrom returns the authorizer bound to ctx, or fallback.
func AuthorizerFrom(ctx context.Context, fallback Authorizer) Authorizer {
	if az, ok := ctx.Value(authorizerKey{}).(Authorizer); ok && az != nil {
		return az
	}
	return fallback
}

// HasAny reports whether p holds at least one of caps in scope.
func HasAny(a Authorizer, p Principal, scope Scope, caps ...Capability) bool {
	if a == nil {
		return false
	}
	for _, c := range caps {
		if a.HasCapability(p, c, scope) {
			return true
		}
	}
	return false
}

// Grant gives a principal a capability, globally or on one account.
type Grant struct {
	PrincipalID string
	Capability  Capability
	Scope       Scope
}
