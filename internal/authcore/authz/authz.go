// Package authz implements the authorization evaluator (spec.md §4.11):
// services are secure by default, delegating to an explicit per-service
// policy when configured, or the default policy otherwise.
package authz

// Policy decides whether a set of principal permissions authorizes an
// operation.
type Policy interface {
	IsAllowed(operation string, principalPerms []string) bool
}

// DefaultPolicy requires the aussie:admin claim for every configuration
// operation; services are secure by default absent an explicit policy.
type DefaultPolicy struct{}

func (DefaultPolicy) IsAllowed(operation string, principalPerms []string) bool {
	return hasPermission(principalPerms, "aussie:admin")
}

// isEmptyPolicy reports whether policy is a MapPolicy with no operations
// registered, in which case the service falls back to the default policy
// (spec.md §3 "use the service's explicit policy (when non-empty) or the
// default policy").
func isEmptyPolicy(policy Policy) bool {
	mp, ok := policy.(MapPolicy)
	return ok && len(mp) == 0
}

func hasPermission(perms []string, want string) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}

// OperationPermission is the set of permissions any one of which authorizes
// an operation (spec.md §3 "Service permission policy").
type OperationPermission struct {
	AnyOf []string
}

// MapPolicy is the per-service, per-operation policy described in spec.md
// §3: allow iff the operation's anyOf intersects the caller's permissions.
// An operation absent from the map denies by default.
type MapPolicy map[string]OperationPermission

func (p MapPolicy) IsAllowed(operation string, principalPerms []string) bool {
	op, ok := p[operation]
	if !ok || len(op.AnyOf) == 0 {
		return false
	}
	for _, want := range op.AnyOf {
		if hasPermission(principalPerms, want) {
			return true
		}
	}
	return false
}

// ServicePolicy registers an explicit, non-default policy for one service.
type ServicePolicy struct {
	ServiceID string
	Policy    Policy
}

// Evaluator implements isAuthorizedForService and canCreateService.
type Evaluator struct {
	policies map[string]Policy
	fallback Policy
}

func New(fallback Policy, policies ...ServicePolicy) *Evaluator {
	if fallback == nil {
		fallback = DefaultPolicy{}
	}
	m := make(map[string]Policy, len(policies))
	for _, sp := range policies {
		m[sp.ServiceID] = sp.Policy
	}
	return &Evaluator{policies: m, fallback: fallback}
}

// IsAuthorizedForService implements spec.md §4.11: wildcard permission
// always allows; no permissions always denies; otherwise the service's
// registered policy decides when it has rules, else (unregistered or empty
// policy) the default policy.
func (e *Evaluator) IsAuthorizedForService(service, operation string, principalPerms []string) bool {
	if hasPermission(principalPerms, "*") {
		return true
	}
	if len(principalPerms) == 0 {
		return false
	}

	policy, ok := e.policies[service]
	if !ok || isEmptyPolicy(policy) {
		policy = e.fallback
	}
	return policy.IsAllowed(operation, principalPerms)
}

// CanCreateService evaluates the default policy against config:create,
// since no per-service policy can exist before the service itself does
// (spec.md §4.11).
func (e *Evaluator) CanCreateService(principalPerms []string) bool {
	if hasPermission(principalPerms, "*") {
		return true
	}
	if len(principalPerms) == 0 {
		return false
	}
	return e.fallback.IsAllowed("config:create", principalPerms)
}
