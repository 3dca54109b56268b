package service

import (
	"context"
	"strings"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// PolicyResolver picks the retry policy that governs a subscription.
type PolicyResolver interface {
	// Resolve walks subscription override, customer segment, campaign and
	// global default in that order. A level that cannot be loaded is logged
	// and skipped, so Resolve always returns a policy.
	Resolve(ctx context.Context, sub *subscription.Subscription) *dunning.ResolvedPolicy
	// GlobalDefault returns the policy configured under dunning.
	GlobalDefault() *dunning.RetryPolicy
}

type policyResolver struct {
	ServiceParams
}

func NewPolicyResolver(params ServiceParams) PolicyResolver {
	return &policyResolver{ServiceParams: params}
}

func (r *policyResolver) Resolve(ctx context.Context, sub *subscription.Subscription) *dunning.ResolvedPolicy {
	if sub.PolicyOverrideID != nil && *sub.PolicyOverrideID != "" {
		if p := r.loadPolicy(ctx, *sub.PolicyOverrideID, sub.ID, types.PolicySourceSubscriptionOverride); p != nil {
			return &dunning.ResolvedPolicy{Policy: p, Source: types.PolicySourceSubscriptionOverride}
		}
	}

	if sub.CustomerSegment != "" {
		if p := r.segmentPolicy(ctx, sub); p != nil {
			return &dunning.ResolvedPolicy{Policy: p, Source: types.PolicySourceSegment}
		}
	}

	if p := r.campaignPolicy(ctx, sub); p != nil {
		return &dunning.ResolvedPolicy{Policy: p, Source: types.PolicySourceCampaign}
	}

	return &dunning.ResolvedPolicy{Policy: r.GlobalDefault(), Source: types.PolicySourceGlobalDefault}
}

func (r *policyResolver) GlobalDefault() *dunning.RetryPolicy {
	p := globalPolicyFromConfig(r.Config.Dunning)
	if err := p.Validate(); err != nil {
		// config validation rejects most of this, the late fee pair is the
		// one combination it cannot see
		r.Logger.Warnw("invalid late fee in global dunning config, ignoring it", "error", err)
		p.LateFeeAfterRetry = nil
		p.LateFeeAmount = nil
	}
	p.Normalize()
	return p
}

func (r *policyResolver) segmentPolicy(ctx context.Context, sub *subscription.Subscription) *dunning.RetryPolicy {
	stored, err := r.PolicyRepo.GetBySegment(ctx, sub.CustomerSegment)
	switch {
	case err == nil:
		if p := r.usable(stored, sub.ID, types.PolicySourceSegment); p != nil {
			return p
		}
	case !ierr.IsNotFound(err):
		r.Logger.Warnw("failed to load segment retry policy, falling back",
			"error", err,
			"segment", sub.CustomerSegment,
			"subscription_id", sub.ID,
		)
	}

	for name, segment := range r.Config.Dunning.Segments {
		if !strings.EqualFold(name, sub.CustomerSegment) {
			continue
		}
		p := segmentPolicyFromConfig(r.GlobalDefault(), name, segment)
		return r.usable(p, sub.ID, types.PolicySourceSegment)
	}
	return nil
}

func (r *policyResolver) campaignPolicy(ctx context.Context, sub *subscription.Subscription) *dunning.RetryPolicy {
	assignment, err := r.CampaignRepo.GetAssignment(ctx, sub.ID)
	if err != nil && !ierr.IsNotFound(err) {
		r.Logger.Warnw("failed to load dunning assignment", "error", err, "subscription_id", sub.ID)
	}

	if assignment != nil {
		if assignment.PolicyID != nil && *assignment.PolicyID != "" {
			if p := r.loadPolicy(ctx, *assignment.PolicyID, sub.ID, types.PolicySourceCampaign); p != nil {
				return p
			}
		}
		if campaign, err := r.CampaignRepo.Get(ctx, assignment.CampaignID); err == nil {
			if p := r.loadPolicy(ctx, campaign.PolicyID, sub.ID, types.PolicySourceCampaign); p != nil {
				return p
			}
		} else {
			r.Logger.Warnw("failed to load assigned campaign",
				"error", err,
				"campaign_id", assignment.CampaignID,
				"subscription_id", sub.ID,
			)
		}
	}

	campaign, err := r.CampaignRepo.GetDefault(ctx)
	if err != nil {
		if !ierr.IsNotFound(err) {
			r.Logger.Warnw("failed to load default campaign", "error", err)
		}
		return nil
	}
	return r.loadPolicy(ctx, campaign.PolicyID, sub.ID, types.PolicySourceCampaign)
}

func (r *policyResolver) loadPolicy(ctx context.Context, policyID, subscriptionID string, source types.PolicySource) *dunning.RetryPolicy {
	p, err := r.PolicyRepo.Get(ctx, policyID)
	if err != nil {
		r.Logger.Warnw("referenced retry policy could not be loaded, falling back",
			"error", err,
			"policy_id", policyID,
			"source", source,
			"subscription_id", subscriptionID,
		)
		return nil
	}
	return r.usable(p, subscriptionID, source)
}

// usable validates and normalizes a policy. Invalid policies are treated as
// configuration errors of their level.
func (r *policyResolver) usable(p *dunning.RetryPolicy, subscriptionID string, source types.PolicySource) *dunning.RetryPolicy {
	if err := p.Validate(); err != nil {
		r.Logger.Warnw("retry policy is invalid, falling back",
			"error", err,
			"policy_id", p.ID,
			"source", source,
			"subscription_id", subscriptionID,
		)
		return nil
	}
	p = p.Clone()
	p.Normalize()
	return p
}

func globalPolicyFromConfig(cfg config.DunningConfig) *dunning.RetryPolicy {
	p := &dunning.RetryPolicy{
		ID:                  "global_default",
		Name:                "Global default",
		MaxRetries:          cfg.MaxRetries,
		RetryIntervalsDays:  append([]int(nil), cfg.RetryIntervalsDays...),
		GracePeriodDays:     cfg.GracePeriodDays,
		EmailOnFirstFailure: cfg.EmailOnFirstFailure,
		EmailOnFinalFailure: cfg.EmailOnFinalFailure,
	}
	if cfg.LateFeeAfterRetry != nil {
		after := *cfg.LateFeeAfterRetry
		p.LateFeeAfterRetry = &after
	}
	if amount, err := decimal.NewFromString(cfg.LateFeeAmount); err == nil {
		p.LateFeeAmount = &amount
	}
	return p
}

// segmentPolicyFromConfig overlays the keys a segment sets on the global
// default.
func segmentPolicyFromConfig(base *dunning.RetryPolicy, name string, cfg config.DunningSegmentConfig) *dunning.RetryPolicy {
	p := base.Clone()
	p.ID = "segment_" + strings.ToLower(name)
	p.Name = name
	p.Segment = name

	if cfg.MaxRetries != nil {
		p.MaxRetries = *cfg.MaxRetries
	}
	if cfg.RetryIntervalsDays != nil {
		p.RetryIntervalsDays = append([]int(nil), cfg.RetryIntervalsDays...)
	}
	if cfg.GracePeriodDays != nil {
		p.GracePeriodDays = *cfg.GracePeriodDays
	}
	if cfg.EmailOnFirstFailure != nil {
		p.EmailOnFirstFailure = *cfg.EmailOnFirstFailure
	}
	if cfg.EmailOnFinalFailure != nil {
		p.EmailOnFinalFailure = *cfg.EmailOnFinalFailure
	}
	if cfg.LateFeeAfterRetry != nil {
		after := *cfg.LateFeeAfterRetry
		p.LateFeeAfterRetry = &after
	}
	if amount, err := decimal.NewFromString(cfg.LateFeeAmount); err == nil {
		p.LateFeeAmount = &amount
	}
	return p
}
