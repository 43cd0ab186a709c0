package rbac

import (
	"fmt"
	"strings"
)

// Tier is a rank on the membership ladder. Higher ranks see more content.
type Tier int

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionView       Action = "view"
	ActionPost       Action = "post"
	ActionModerate   Action = "moderate"
	ActionAdminister Action = "administer"
)

// Ladder is the closed, ordered set of membership tiers supplied at startup.
// Aliases on the same level share a rank.
type Ladder struct {
	levels [][]string
	ranks  map[string]Tier
}

// DefaultLadder is free < core|community < premium.
func DefaultLadder() *Ladder {
	l, _ := NewLadder([][]string{{"free"}, {"core", "community"}, {"premium"}})
	return l
}

func NewLadder(levels [][]string) (*Ladder, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("tier ladder is empty")
	}
	l := &Ladder{ranks: map[string]Tier{}}
	for rank, names := range levels {
		level := make([]string, 0, len(names))
		for _, name := range names {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if _, dup := l.ranks[name]; dup {
				return nil, fmt.Errorf("tier %q declared twice", name)
			}
			l.ranks[name] = Tier(rank)
			level = append(level, name)
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("tier level %d has no names", rank)
		}
		l.levels = append(l.levels, level)
	}
	return l, nil
}

// ParseLadder reads "free,core|community,premium".
func ParseLadder(spec string) (*Ladder, error) {
	var levels [][]string
	for _, part := range strings.Split(spec, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		levels = append(levels, strings.Split(part, "|"))
	}
	return NewLadder(levels)
}

// Normalize maps a tier name to its rank. Unknown names fail closed to the lowest tier.
func (l *Ladder) Normalize(name string) Tier {
	if rank, ok := l.ranks[strings.ToLower(strings.TrimSpace(name))]; ok {
		return rank
	}
	return l.Lowest()
}

// Lookup is Normalize without the fallback, for validating configuration and admin input.
func (l *Ladder) Lookup(name string) (Tier, bool) {
	rank, ok := l.ranks[strings.ToLower(strings.TrimSpace(name))]
	return rank, ok
}

func (l *Ladder) Lowest() Tier { return 0 }

func (l *Ladder) Highest() Tier { return Tier(len(l.levels) - 1) }

// Clamp pulls an out-of-range rank (e.g. from stale storage) onto the ladder. Below zero is lowest,
// above the top is treated as lowest too so a corrupted value never widens access.
func (l *Ladder) Clamp(t Tier) Tier {
	if t < 0 || t > l.Highest() {
		return l.Lowest()
	}
	return t
}

// Name returns the canonical (first declared) name of a rank.
func (l *Ladder) Name(t Tier) string {
	return l.levels[l.Clamp(t)][0]
}

func (l *Ladder) Names() []string {
	out := make([]string, 0, len(l.ranks))
	for _, level := range l.levels {
		out = append(out, level...)
	}
	return out
}

// CanView reports whether a caller of tier caller may see content gated at required.
func CanView(caller, required Tier) bool {
	return caller >= required
}

// CanPost uses the same ordering as CanView; posting never needs more than viewing.
func CanPost(caller, required Tier) bool {
	return caller >= required
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionView || action == ActionPost || action == ActionModerate
	case RoleMember:
		return action == ActionView || action == ActionPost
	default:
		return false
	}
}

func NormalizeRole(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleMember:
		return RoleMember
	case RoleModerator:
		return RoleModerator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleMember
	}
}
