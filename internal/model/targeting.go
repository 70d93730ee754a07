// internal/model/targeting.go
package model

import (
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
)

type Role string

const (
	RoleReporter   Role = "reporter"
	RoleInfluencer Role = "influencer"
	RoleBoth       Role = "both"
)

// SubRoles expands a campaign target role into the directory roles it covers.
func (r Role) SubRoles() ([]Role, error) {
	switch r {
	case RoleReporter, RoleInfluencer:
		return []Role{r}, nil
	case RoleBoth:
		return []Role{RoleReporter, RoleInfluencer}, nil
	}
	return nil, fmt.Errorf("%w: %q", appErrors.ErrInvalidTargetRole, string(r))
}

type LocationFilter struct {
	States []string `json:"states,omitempty"`
	Cities []string `json:"cities,omitempty"`
}

type LegacyFilter struct {
	OriginState string `json:"origin_state,omitempty"`
	OriginCity  string `json:"origin_city,omitempty"`
}

// TargetingDescriptor is the wire form of a campaign's targeting rules. Use
// RuleFor to obtain the single rule that applies to a role.
type TargetingDescriptor struct {
	ExplicitRecipientIDs map[Role][]string `json:"explicit_recipient_ids,omitempty"`
	Location             *LocationFilter   `json:"location,omitempty"`
	AllPopulation        bool              `json:"all_population,omitempty"`
	Legacy               *LegacyFilter     `json:"legacy,omitempty"`
}

type Tier int

const (
	TierExplicit Tier = iota + 1
	TierLocation
	TierAllPopulation
	TierLegacy
)

func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "explicit"
	case TierLocation:
		return "location"
	case TierAllPopulation:
		return "all_population"
	case TierLegacy:
		return "legacy"
	}
	return "unknown"
}

// Rule is one of ExplicitIDs, LocationRule, AllPopulation or LegacyRule.
type Rule interface {
	Tier() Tier
	rule()
}

type ExplicitIDs struct {
	IDs []string
}

type LocationRule struct {
	States []string
	Cities []string
}

type AllPopulation struct{}

// LegacyRule matches on the ad's origin fields. An empty LegacyRule matches nobody.
type LegacyRule struct {
	State string
	City  string
}

func (ExplicitIDs) Tier() Tier   { return TierExplicit }
func (LocationRule) Tier() Tier  { return TierLocation }
func (AllPopulation) Tier() Tier { return TierAllPopulation }
func (LegacyRule) Tier() Tier    { return TierLegacy }

func (ExplicitIDs) rule()   {}
func (LocationRule) rule()  {}
func (AllPopulation) rule() {}
func (LegacyRule) rule()    {}

func (r LegacyRule) Empty() bool {
	return r.State == "" && r.City == ""
}

// RuleFor returns the rule of the first present tier for role. A present tier is
// used exclusively, whatever it later matches.
func (d TargetingDescriptor) RuleFor(role Role) Rule {
	if ids := d.ExplicitRecipientIDs[role]; len(ids) > 0 {
		return ExplicitIDs{IDs: ids}
	}
	if d.Location != nil && (len(d.Location.States) > 0 || len(d.Location.Cities) > 0) {
		return LocationRule{States: d.Location.States, Cities: d.Location.Cities}
	}
	if d.AllPopulation {
		return AllPopulation{}
	}
	if d.Legacy != nil {
		return LegacyRule{State: d.Legacy.OriginState, City: d.Legacy.OriginCity}
	}
	return LegacyRule{}
}

// Validate rejects descriptors that are malformed or select no tier at all.
func (d TargetingDescriptor) Validate() error {
	hasTier := false
	for role, ids := range d.ExplicitRecipientIDs {
		if role != RoleReporter && role != RoleInfluencer {
			return fmt.Errorf("%w: explicit ids for unknown role %q", appErrors.ErrInvalidTargetingDescriptor, string(role))
		}
		for _, id := range ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: blank recipient id", appErrors.ErrInvalidTargetingDescriptor)
			}
		}
		if len(ids) > 0 {
			hasTier = true
		}
	}
	if d.Location != nil {
		for _, v := range append(append([]string{}, d.Location.States...), d.Location.Cities...) {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%w: blank location value", appErrors.ErrInvalidTargetingDescriptor)
			}
		}
		if len(d.Location.States) > 0 || len(d.Location.Cities) > 0 {
			hasTier = true
		}
	}
	if d.AllPopulation {
		hasTier = true
	}
	if d.Legacy != nil && (d.Legacy.OriginState != "" || d.Legacy.OriginCity != "") {
		hasTier = true
	}
	if !hasTier {
		return fmt.Errorf("%w: no targeting tier configured", appErrors.ErrInvalidTargetingDescriptor)
	}
	return nil
}
