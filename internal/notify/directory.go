package notify

import (
	"context"
	"fmt"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

// Member is what the directory knows about a handle.
type Member struct {
	UserID string
	Tier   rbac.Tier
}

// Directory resolves @handles to users. Identity lives outside the forum, so the
// directory is filled from the author snapshots and callers it sees.
type Directory struct {
	members cmap.ConcurrentMap[string, Member]
}

func NewDirectory() *Directory {
	return &Directory{members: cmap.New[Member]()}
}

// Learn records or refreshes a user. Empty handles and ids are ignored.
func (d *Directory) Learn(a store.Author) {
	handle := strings.ToLower(strings.TrimSpace(a.Handle))
	if handle == "" || a.ID == "" {
		return
	}
	d.members.Set(handle, Member{UserID: a.ID, Tier: a.Tier})
}

// Resolve looks a handle up case-insensitively.
func (d *Directory) Resolve(handle string) (Member, bool) {
	return d.members.Get(strings.ToLower(handle))
}

func (d *Directory) Len() int { return d.members.Count() }

// Warm refills the directory from stored author snapshots so mentions resolve
// after a restart, before those users call in again. It returns the directory size.
func (d *Directory) Warm(ctx context.Context, authors store.AuthorRepository) (int, error) {
	list, err := authors.ListAuthors(ctx)
	if err != nil {
		return d.Len(), fmt.Errorf("warm directory: %w", err)
	}
	for _, a := range list {
		d.Learn(a)
	}
	return d.Len(), nil
}
