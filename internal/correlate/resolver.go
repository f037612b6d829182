// Package correlate maps externally reported failures onto stable internal
// incident identities, so a pipeline that fails, is retried, and fails again
// accumulates history under one incident instead of spawning duplicates.
package correlate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"oncall/internal/audit"
)

// Resolution is the explicit outcome of identity resolution: either an
// existing incident was found, or a new one was created.
type Resolution struct {
	IncidentID string
	Created    bool
}

// Resolver resolves external identifiers to internal incident ids.
type Resolver struct {
	Trail *audit.Trail

	// Window bounds the fallback reception scan; 0 means
	// audit.DefaultReceptionWindow.
	Window int
}

func New(trail *audit.Trail) *Resolver {
	return &Resolver{Trail: trail}
}

// Resolve maps a report to an internal incident id, in order:
//
//  1. Explicit lineage (parentID propagated through a remediation action)
//     wins outright.
//  2. Otherwise the most recent reception events are scanned for one whose
//     details carry the same external_id; the newest match wins.
//  3. Otherwise a fresh id is minted and the report starts a new incident.
//
// The fallback is best-effort by design: if more than Window unrelated
// reports arrive between two reports of the same external id, the scan
// misses and a new identity is minted. That is the accepted cost of a
// bounded scan over an indexed lookup.
func (r *Resolver) Resolve(ctx context.Context, externalID, parentID string) (Resolution, error) {
	if parentID != "" {
		return Resolution{IncidentID: parentID}, nil
	}
	if externalID != "" {
		events, err := r.Trail.RecentReceptions(ctx, r.Window)
		if err != nil {
			return Resolution{}, fmt.Errorf("scan recent receptions: %w", err)
		}
		for _, evt := range events {
			prev, _ := evt.Details["external_id"].(string)
			if prev == externalID && evt.IncidentID != "" {
				return Resolution{IncidentID: evt.IncidentID}, nil
			}
		}
	}
	return Resolution{IncidentID: MintID(), Created: true}, nil
}

// MintID generates a short human-presentable incident id, e.g. INC-7F3A91C2.
func MintID() string {
	return "INC-" + strings.ToUpper(uuid.NewString()[:8])
}
