// Package votes decides how a single vote changes an entity's up/down tallies.
package votes

import (
	"context"
	"fmt"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	none Direction = ""
)

func ParseDirection(value string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case Up:
		return Up, true
	case Down:
		return Down, true
	default:
		return none, false
	}
}

// Delta is the change to apply to an entity's tallies.
type Delta struct {
	Up   int
	Down int
}

func (d Delta) Zero() bool { return d.Up == 0 && d.Down == 0 }

// Ledger records votes. Cast must be called while the voted entity is locked.
type Ledger interface {
	Cast(ctx context.Context, entity, voter string, dir Direction) (Delta, error)
}

const (
	ModeDedup = "dedup"
	ModeTally = "tally"
)

// Key identifies a voted entity in a ledger, e.g. Key("post", "pst_1").
func Key(kind, id string) string { return kind + ":" + id }

// change moves a voter from prev to next. Repeating a direction is a no-op.
func change(prev, next Direction) Delta {
	var d Delta
	if prev == next {
		return d
	}
	switch prev {
	case Up:
		d.Up--
	case Down:
		d.Down--
	}
	switch next {
	case Up:
		d.Up++
	case Down:
		d.Down++
	}
	return d
}

// TallyLedger counts every call, with no per-voter memory.
type TallyLedger struct{}

func (TallyLedger) Cast(ctx context.Context, entity, voter string, dir Direction) (Delta, error) {
	return change(none, dir), nil
}

// MemoryLedger keeps one vote per (entity, voter) in process memory.
type MemoryLedger struct {
	votes cmap.ConcurrentMap[string, Direction]
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{votes: cmap.New[Direction]()}
}

func (l *MemoryLedger) Cast(ctx context.Context, entity, voter string, dir Direction) (Delta, error) {
	var prev Direction
	l.votes.Upsert(entity+"|"+voter, dir, func(exists bool, current, next Direction) Direction {
		if exists {
			prev = current
		}
		return next
	})
	return change(prev, dir), nil
}

// NewLedger picks the ledger for a mode. A nil redis ledger keeps dedup votes in memory.
func NewLedger(mode string, redisLedger *RedisLedger) (Ledger, error) {
	switch mode {
	case ModeTally:
		return TallyLedger{}, nil
	case ModeDedup, "":
		if redisLedger != nil {
			return redisLedger, nil
		}
		return NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unknown vote mode %q", mode)
	}
}
