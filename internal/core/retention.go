package core

import "time"

// VersionRef is the minimal view of a stored version that retention
// decisions operate on.
type VersionRef struct {
	ID        int64
	CreatedAt time.Time
}

// RetentionPolicy decides which versions of a slot survive after an append.
// Implementations must be pure: given the slot's version refs ordered by id
// ascending, return the ids to keep. The engine performs the actual deletion
// through the store, so alternate policies swap in without touching it.
type RetentionPolicy interface {
	Keep(versions []VersionRef) []int64
}

// KeepLastN retains the N most recent versions, evicting oldest id first.
// This is the default policy.
type KeepLastN struct {
	N int
}

func (p KeepLastN) Keep(versions []VersionRef) []int64 {
	n := p.N
	if n < 1 {
		n = 1
	}
	if len(versions) > n {
		versions = versions[len(versions)-n:]
	}
	return ids(versions)
}

// KeepFirstAndLastN always retains the first captured version plus the N
// most recent ones.
type KeepFirstAndLastN struct {
	N int
}

func (p KeepFirstAndLastN) Keep(versions []VersionRef) []int64 {
	if len(versions) == 0 {
		return nil
	}
	kept := KeepLastN{N: p.N}.Keep(versions)
	if len(kept) > 0 && kept[0] != versions[0].ID {
		kept = append([]int64{versions[0].ID}, kept...)
	}
	return kept
}

// KeepWithinAge retains versions captured within MaxAge of the reference
// time, but always keeps the most recent version so a slot never loses its
// entire history to age alone. Now defaults to time.Now when unset.
type KeepWithinAge struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (p KeepWithinAge) Keep(versions []VersionRef) []int64 {
	if len(versions) == 0 {
		return nil
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	cutoff := now().Add(-p.MaxAge)
	var kept []VersionRef
	for _, v := range versions {
		if !v.CreatedAt.Before(cutoff) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		kept = versions[len(versions)-1:]
	}
	return ids(kept)
}

func ids(versions []VersionRef) []int64 {
	out := make([]int64, len(versions))
	for i, v := range versions {
		out[i] = v.ID
	}
	return out
}
