package session

// Decision is the outcome of a route guard evaluation.
type Decision string

const (
	// DecisionAllow renders the requested route.
	DecisionAllow Decision = "allow"
	// DecisionRedirectToLogin sends an unauthenticated visitor to the login
	// route.
	DecisionRedirectToLogin Decision = "redirect_login"
	// DecisionRedirectToHome sends a non-admin away from an admin route.
	DecisionRedirectToHome Decision = "redirect_home"
	// DecisionPending means the session is still loading; render a neutral
	// state and re-evaluate after the store settles. Never redirect on
	// Pending.
	DecisionPending Decision = "pending"
)

// GuardRule is the protection requirement attached to a route.
type GuardRule struct {
	RequiresAuth  bool
	RequiresAdmin bool
}

// Decide evaluates the guard rules for a route. Rules apply in order: an
// unresolved store is Pending; a protected route without a session redirects
// to login; an admin route without the admin role redirects to home;
// everything else is allowed. An admin requirement implies an auth
// requirement.
func Decide(phase Phase, s *Session, rule GuardRule) Decision {
	if phase == PhaseLoading {
		return DecisionPending
	}

	needsAuth := rule.RequiresAuth || rule.RequiresAdmin
	if needsAuth && s == nil {
		return DecisionRedirectToLogin
	}

	if rule.RequiresAdmin && !s.IsAdmin() {
		return DecisionRedirectToHome
	}

	return DecisionAllow
}
