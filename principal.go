package permissions

// Principal identifies an actor that can hold roles and permissions. Any
// concrete type can participate by exposing an opaque (id, kind) identity;
// the kind discriminates principal tables shared by several owner types.
type Principal interface {
	PrincipalID() string
	PrincipalType() string
}

// Subject is a plain Principal value for callers that do not have a richer
// domain type at hand.
type Subject struct {
	ID   string
	Type string
}

func (s Subject) PrincipalID() string   { return s.ID }
func (s Subject) PrincipalType() string { return s.Type }
