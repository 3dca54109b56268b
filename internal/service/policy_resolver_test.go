package service

import (
	"testing"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/testutil"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type PolicyResolverSuite struct {
	testutil.BaseServiceTestSuite
	resolver PolicyResolver
	sub      *subscription.Subscription
}

func TestPolicyResolver(t *testing.T) {
	suite.Run(t, new(PolicyResolverSuite))
}

func (s *PolicyResolverSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.resolver = NewPolicyResolver(newTestServiceParams(&s.BaseServiceTestSuite))
	s.sub = newTestSubscription("sub_1", s.GetNow())
}

func (s *PolicyResolverSuite) createPolicy(p *dunning.RetryPolicy) {
	s.Require().NoError(s.GetStores().PolicyRepo.Create(s.GetContext(), p))
}

func (s *PolicyResolverSuite) createCampaign(id, policyID string, isDefault bool) {
	s.Require().NoError(s.GetStores().CampaignRepo.Create(s.GetContext(), &dunning.Campaign{
		ID:        id,
		Name:      id,
		PolicyID:  policyID,
		IsDefault: isDefault,
		BaseModel: types.BaseModel{Status: types.StatusPublished},
	}))
}

func (s *PolicyResolverSuite) resolve() *dunning.ResolvedPolicy {
	resolved := s.resolver.Resolve(s.GetContext(), s.sub)
	s.Require().NotNil(resolved)
	s.Require().NotNil(resolved.Policy)
	return resolved
}

func (s *PolicyResolverSuite) TestGlobalDefault() {
	resolved := s.resolve()
	s.Equal(types.PolicySourceGlobalDefault, resolved.Source)
	s.Equal(3, resolved.Policy.MaxRetries)
	s.Equal([]int{1, 3, 7}, resolved.Policy.RetryIntervalsDays)
	s.Equal(14, resolved.Policy.GracePeriodDays)
	s.True(resolved.Policy.EmailOnFirstFailure)
	s.True(resolved.Policy.EmailOnFinalFailure)
}

func (s *PolicyResolverSuite) TestPrecedence() {
	s.createPolicy(newTestPolicy("pol_override", 1, 2))
	s.createPolicy(func() *dunning.RetryPolicy {
		p := newTestPolicy("pol_enterprise", 5, 1, 2, 3, 4, 5)
		p.Segment = "enterprise"
		return p
	}())
	s.createPolicy(newTestPolicy("pol_campaign", 2, 5))
	s.createCampaign("camp_default", "pol_campaign", true)

	s.sub.PolicyOverrideID = lo.ToPtr("pol_override")
	s.sub.CustomerSegment = "enterprise"

	tests := []struct {
		name     string
		mutate   func()
		policyID string
		source   types.PolicySource
	}{
		{
			name:     "subscription override wins",
			mutate:   func() {},
			policyID: "pol_override",
			source:   types.PolicySourceSubscriptionOverride,
		},
		{
			name:     "missing override falls through to segment",
			mutate:   func() { s.sub.PolicyOverrideID = lo.ToPtr("pol_missing") },
			policyID: "pol_enterprise",
			source:   types.PolicySourceSegment,
		},
		{
			name:     "segment matches case insensitively",
			mutate:   func() { s.sub.CustomerSegment = "Enterprise" },
			policyID: "pol_enterprise",
			source:   types.PolicySourceSegment,
		},
		{
			name:     "unknown segment falls through to default campaign",
			mutate:   func() { s.sub.CustomerSegment = "smb" },
			policyID: "pol_campaign",
			source:   types.PolicySourceCampaign,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			tt.mutate()
			resolved := s.resolve()
			s.Equal(tt.policyID, resolved.Policy.ID)
			s.Equal(tt.source, resolved.Source)
		})
	}
}

func (s *PolicyResolverSuite) TestConfigSegment() {
	s.GetConfig().Dunning.Segments = map[string]config.DunningSegmentConfig{
		"Startup": {
			MaxRetries:         lo.ToPtr(1),
			RetryIntervalsDays: []int{2},
		},
	}
	s.sub.CustomerSegment = "startup"

	resolved := s.resolve()
	s.Equal(types.PolicySourceSegment, resolved.Source)
	s.Equal(1, resolved.Policy.MaxRetries)
	s.Equal([]int{2}, resolved.Policy.RetryIntervalsDays)
	// keys the segment does not set come from the global default
	s.Equal(14, resolved.Policy.GracePeriodDays)
}

func (s *PolicyResolverSuite) TestCampaignAssignment() {
	s.createPolicy(newTestPolicy("pol_assigned", 2, 4))
	s.createPolicy(newTestPolicy("pol_default", 3, 1))
	s.createCampaign("camp_assigned", "pol_assigned", false)
	s.createCampaign("camp_default", "pol_default", true)

	s.Require().NoError(s.GetStores().CampaignRepo.UpsertAssignment(s.GetContext(), &dunning.Assignment{
		ID:             "asg_1",
		SubscriptionID: s.sub.ID,
		CampaignID:     "camp_assigned",
	}))

	resolved := s.resolve()
	s.Equal("pol_assigned", resolved.Policy.ID)
	s.Equal(types.PolicySourceCampaign, resolved.Source)
}

func (s *PolicyResolverSuite) TestInvalidPolicyFallsBack() {
	// negative intervals are rejected by Validate
	s.createPolicy(newTestPolicy("pol_broken", 2, -1))
	s.sub.PolicyOverrideID = lo.ToPtr("pol_broken")

	resolved := s.resolve()
	s.Equal(types.PolicySourceGlobalDefault, resolved.Source)
}

func (s *PolicyResolverSuite) TestResolvedPolicyIsNormalized() {
	s.createPolicy(newTestPolicy("pol_no_intervals", 2))
	s.sub.PolicyOverrideID = lo.ToPtr("pol_no_intervals")

	resolved := s.resolve()
	s.Equal([]int{dunning.DefaultRetryIntervalDays}, resolved.Policy.RetryIntervalsDays)

	// the stored policy itself is left untouched
	stored, err := s.GetStores().PolicyRepo.Get(s.GetContext(), "pol_no_intervals")
	s.Require().NoError(err)
	s.Empty(stored.RetryIntervalsDays)
}
