package models

import (
	"sort"
	"time"
)

const (
	// LatestSessionWindow bounds how far from the most recent entry a
	// position can be and still count as part of the latest entry session.
	LatestSessionWindow = 15 * time.Minute

	// SessionGap is the maximum delta between consecutive entry times
	// within one session.
	SessionGap = 30 * time.Minute
)

// LatestSession returns the positions whose entry timestamps fall within
// LatestSessionWindow of the most recent entry, newest first. Sessions are a
// read-side grouping only; they never drive control flow.
func LatestSession(positions []Position) []Position {
	if len(positions) == 0 {
		return nil
	}
	sorted := sortByEntryDesc(positions)
	latest := sorted[0].EntryTime
	cutoff := latest.Add(-LatestSessionWindow)
	end := latest.Add(LatestSessionWindow)

	var session []Position
	for _, p := range sorted {
		if !p.EntryTime.Before(cutoff) && !p.EntryTime.After(end) {
			session = append(session, p)
		}
	}
	return session
}

// Sessions groups positions into runs where consecutive entry-time deltas
// are at most SessionGap. Groups are returned newest-session-first, positions
// within each session newest first.
func Sessions(positions []Position) [][]Position {
	if len(positions) == 0 {
		return nil
	}
	sorted := sortByEntryDesc(positions)

	var groups [][]Position
	current := []Position{sorted[0]}
	for _, p := range sorted[1:] {
		prev := current[len(current)-1]
		if prev.EntryTime.Sub(p.EntryTime) <= SessionGap {
			current = append(current, p)
		} else {
			groups = append(groups, current)
			current = []Position{p}
		}
	}
	groups = append(groups, current)
	return groups
}

func sortByEntryDesc(positions []Position) []Position {
	sorted := make([]Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EntryTime.After(sorted[j].EntryTime)
	})
	return sorted
}
