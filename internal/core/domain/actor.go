package domain

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RoleModerator || r == RoleAdmin
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Privileged reports whether the actor may act on other members' offers.
func (a Actor) Privileged() bool { return a.Role == RoleAdmin || a.Role == RoleModerator }

// Member is a directory entry.
type Member struct {
	ID     string
	Email  string
	TaxID  string
	Active bool
}
