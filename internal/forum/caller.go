package forum

import (
	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

// Caller is the identity snapshot supplied by the session layer on every request.
// The engine trusts it and does not re-authenticate.
type Caller struct {
	UserID     string
	Name       string
	Handle     string
	Tier       rbac.Tier
	Role       rbac.Role
	Reputation int
	PostCount  int
}

// Anonymous reads at the lowest tier and cannot write.
func Anonymous() Caller {
	return Caller{Role: rbac.RoleMember}
}

func (c Caller) Authenticated() bool { return c.UserID != "" }

func (c Caller) CanModerate() bool { return rbac.Can(c.Role, rbac.ActionModerate) }

func (c Caller) CanAdminister() bool { return rbac.Can(c.Role, rbac.ActionAdminister) }

func (c Caller) Snapshot() store.Author {
	return store.Author{
		ID:         c.UserID,
		Name:       c.Name,
		Handle:     c.Handle,
		Tier:       c.Tier,
		Role:       string(c.Role),
		Reputation: c.Reputation,
		PostCount:  c.PostCount,
	}
}

func requireUser(c Caller) error {
	if !c.Authenticated() {
		return AccessDenied("sign in required")
	}
	return nil
}

func requireModerator(c Caller) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if !c.CanModerate() {
		return AccessDenied("moderator role required")
	}
	return nil
}

func requireAdmin(c Caller) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if !c.CanAdminister() {
		return AccessDenied("admin role required")
	}
	return nil
}

// ownsOrModerates allows authors to manage their own content and moderators everything.
func ownsOrModerates(c Caller, author store.Author) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if c.UserID == author.ID || c.CanModerate() {
		return nil
	}
	return AccessDenied("only the author or a moderator may do this")
}
