package permissions

import (
	"context"

	"go.uber.org/zap"
)

// Decision is the three-valued result of an authorization hook. Abstain
// means "no opinion, defer to other checks", which a plain boolean cannot
// express.
type Decision int

const (
	Abstain Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "abstain"
	}
}

// GateFunc is a pre-check hook for a surrounding authorization gate. It
// receives the acting principal and the requested ability.
type GateFunc func(ctx context.Context, p Principal, ability string) Decision

// NewGateHook builds the pre-check hook: Allow when the principal is a
// super admin or holds the ability as a permission, Abstain otherwise. It
// never returns Deny, so it composes safely with other authorization
// logic. Resolution errors abstain rather than block the gate.
func NewGateHook(r *Resolver, opts GateOptions, log *zap.Logger) GateFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, p Principal, ability string) Decision {
		if !opts.Enabled || !opts.BeforeCallback || p == nil {
			return Abstain
		}
		super, err := r.IsSuperAdmin(ctx, p)
		if err != nil {
			log.Warn("gate hook super admin check failed", zap.Error(err))
			return Abstain
		}
		if super {
			return Allow
		}
		ok, err := r.HasPermission(ctx, p, ability)
		if err != nil {
			log.Warn("gate hook permission check failed", zap.String("ability", ability), zap.Error(err))
			return Abstain
		}
		if ok {
			return Allow
		}
		return Abstain
	}
}
