package inventory

import (
	"context"
	"fmt"
)

// BOMPolicy decides which active BOM version production uses.
type BOMPolicy string

const (
	// BOMPolicyHighest picks the active version with the greatest number.
	BOMPolicyHighest BOMPolicy = "highest"
	// BOMPolicyStrict fails with AMBIGUOUS when more than one version is active.
	BOMPolicyStrict BOMPolicy = "strict"
)

// ParseBOMPolicy validates a configured policy name. Empty means highest.
func ParseBOMPolicy(raw string) (BOMPolicy, error) {
	switch p := BOMPolicy(raw); p {
	case "":
		return BOMPolicyHighest, nil
	case BOMPolicyHighest, BOMPolicyStrict:
		return p, nil
	}
	return "", fmt.Errorf("inventory: unknown bom policy %q", raw)
}

// BOMSource loads the active recipes of a finished item.
type BOMSource interface {
	ActiveBOMs(ctx context.Context, finishedItemID string) ([]BOM, error)
}

// BOMResolver returns the recipe production consumes.
type BOMResolver struct {
	policy BOMPolicy
}

// NewBOMResolver builds a resolver for the given policy.
func NewBOMResolver(policy BOMPolicy) BOMResolver {
	if policy == "" {
		policy = BOMPolicyHighest
	}
	return BOMResolver{policy: policy}
}

// Resolve picks exactly one active BOM for the finished item.
func (r BOMResolver) Resolve(ctx context.Context, src BOMSource, finishedItemID string) (BOM, error) {
	boms, err := src.ActiveBOMs(ctx, finishedItemID)
	if err != nil {
		return BOM{}, internal("load bom", err)
	}
	active := boms[:0:0]
	for _, b := range boms {
		if b.Active {
			active = append(active, b)
		}
	}
	switch {
	case len(active) == 0:
		return BOM{}, &Error{Kind: KindNotFound, Message: fmt.Sprintf("no active bom for item %q", finishedItemID), ItemID: finishedItemID}
	case len(active) > 1 && r.policy == BOMPolicyStrict:
		return BOM{}, &Error{Kind: KindAmbiguous, Message: fmt.Sprintf("%d active bom versions for item %q", len(active), finishedItemID), ItemID: finishedItemID}
	}
	best := active[0]
	for _, b := range active[1:] {
		if b.Version > best.Version {
			best = b
		}
	}
	if len(best.Lines) == 0 {
		return BOM{}, validationf("bom %q version %d has no lines", best.ID, best.Version)
	}
	return best, nil
}
