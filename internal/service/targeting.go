package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/unclebandit/reach-backend/internal/model"
)

// Directory is the read side of the recipient population.
type Directory interface {
	Find(ctx context.Context, query model.DirectoryQuery) ([]model.Recipient, error)
}

// Resolution is the eligible set for one campaign, sorted by recipient ID,
// plus the tier that produced each role's share.
type Resolution struct {
	Recipients []string
	Tiers      map[model.Role]model.Tier
}

type TargetingResolver struct {
	Directory Directory
}

// Resolve computes the eligible recipients for descriptor and targetRole. Each
// sub-role picks its own tier, and verification gating runs after matching.
func (t *TargetingResolver) Resolve(ctx context.Context, descriptor model.TargetingDescriptor, targetRole model.Role) (*Resolution, error) {
	roles, err := targetRole.SubRoles()
	if err != nil {
		return nil, err
	}

	res := &Resolution{Tiers: make(map[model.Role]model.Tier, len(roles))}
	seen := map[string]struct{}{}
	for _, role := range roles {
		rule := descriptor.RuleFor(role)
		res.Tiers[role] = rule.Tier()

		matched, err := t.match(ctx, role, rule)
		if err != nil {
			return nil, fmt.Errorf("resolve %s via %s tier: %w", role, rule.Tier(), err)
		}
		for _, r := range matched {
			if !r.EligibleFor(role) {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			res.Recipients = append(res.Recipients, r.ID)
		}
	}

	sort.Strings(res.Recipients)
	if res.Recipients == nil {
		res.Recipients = []string{}
	}
	return res, nil
}

func (t *TargetingResolver) match(ctx context.Context, role model.Role, rule model.Rule) ([]model.Recipient, error) {
	query := model.DirectoryQuery{Role: role}

	switch r := rule.(type) {
	case model.ExplicitIDs:
		query.IDs = r.IDs
	case model.LocationRule:
		query.States = r.States
		query.Cities = r.Cities
	case model.AllPopulation:
	case model.LegacyRule:
		if r.Empty() {
			return nil, nil
		}
		if r.State != "" {
			query.States = []string{r.State}
		}
		if r.City != "" {
			query.Cities = []string{r.City}
		}
	default:
		return nil, fmt.Errorf("unsupported targeting rule %T", rule)
	}

	return t.Directory.Find(ctx, query)
}
