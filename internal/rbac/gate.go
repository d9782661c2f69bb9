package rbac

import (
	"context"
	"log/slog"

	"helpdesk/internal/metrics"
	"helpdesk/internal/permission"
)

// Gate is the single authorization check every protected operation runs
// before touching data. The superuser override lives in the Evaluator and
// applies to permission, role and action checks alike.
type Gate struct {
	eval   *Evaluator
	policy Policy
	logger *slog.Logger
}

// NewGate builds a Gate. A nil policy means DefaultPolicy.
func NewGate(eval *Evaluator, policy Policy, logger *slog.Logger) *Gate {
	if policy == nil {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{eval: eval, policy: policy, logger: logger}
}

// Evaluator exposes the underlying evaluator.
func (g *Gate) Evaluator() *Evaluator {
	return g.eval
}

// Require returns nil when p holds code and a *ForbiddenError otherwise.
func (g *Gate) Require(ctx context.Context, p Principal, code permission.Code) error {
	if p.Authenticated() && g.eval.HasPermission(ctx, p, string(code)) {
		record("permission", true)
		return nil
	}
	record("permission", false)
	g.deny(p, "", code, nil)
	return &ForbiddenError{Code: code}
}

// RequireRole returns nil when p is a member of one of roles, or a superuser.
func (g *Gate) RequireRole(_ context.Context, p Principal, roles ...string) error {
	if p.Authenticated() && g.eval.HasRole(p, roles...) {
		record("role", true)
		return nil
	}
	record("role", false)
	g.deny(p, "", "", roles)
	return &ForbiddenError{Roles: roles}
}

// RequireAction checks p against the policy entry of action.
func (g *Gate) RequireAction(ctx context.Context, p Principal, action Action) error {
	req, ok := g.policy.Lookup(action)
	if !ok {
		g.logger.Error("rbac action missing from policy", slog.String("action", string(action)))
		record("action", false)
		return &ForbiddenError{Action: action}
	}
	if !p.Authenticated() {
		record("action", false)
		g.deny(p, action, req.Code, nil)
		return &ForbiddenError{Action: action, Code: req.Code}
	}
	if req.AuthenticatedOnly {
		record("action", true)
		return nil
	}
	if g.eval.HasPermission(ctx, p, string(req.Code)) {
		record("action", true)
		return nil
	}
	record("action", false)
	g.deny(p, action, req.Code, nil)
	return &ForbiddenError{Action: action, Code: req.Code}
}

// Can is Require without the error, for building UI affordances.
func (g *Gate) Can(ctx context.Context, p Principal, action Action) bool {
	req, ok := g.policy.Lookup(action)
	if !ok || !p.Authenticated() {
		return false
	}
	return req.AuthenticatedOnly || g.eval.HasPermission(ctx, p, string(req.Code))
}

func (g *Gate) deny(p Principal, action Action, code permission.Code, roles []string) {
	g.logger.Info("rbac denied",
		slog.String("user", p.Username),
		slog.String("action", string(action)),
		slog.String("permission", string(code)),
		slog.Any("roles", roles))
}

func record(kind string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	metrics.AuthzDecisions.WithLabelValues(kind, decision).Inc()
}
