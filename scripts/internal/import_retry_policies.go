package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flexprice/dunning/internal/cache"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/flexprice/dunning/internal/repository/pgsql"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gocarina/gocsv"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// RetryPolicyRow is one line of the policy sheet. Intervals are separated
// by "|", e.g. 1|3|7.
type RetryPolicyRow struct {
	Name                string `csv:"name"`
	Segment             string `csv:"segment"`
	MaxRetries          int    `csv:"max_retries"`
	RetryIntervalsDays  string `csv:"retry_intervals_days"`
	GracePeriodDays     int    `csv:"grace_period_days"`
	LateFeeAfterRetry   string `csv:"late_fee_after_retry"`
	LateFeeAmount       string `csv:"late_fee_amount"`
	EmailOnFirstFailure bool   `csv:"email_on_first_failure"`
	EmailOnFinalFailure bool   `csv:"email_on_final_failure"`
}

type ImportStats struct {
	Created int
	Updated int
	Skipped int
}

// ImportRetryPoliciesFromFile loads POLICY_CSV into the database. Set
// DRY_RUN=true to only validate the sheet.
func ImportRetryPoliciesFromFile() error {
	isDryRun := os.Getenv("DRY_RUN") == "true"
	path := os.Getenv("POLICY_CSV")
	if path == "" {
		return fmt.Errorf("POLICY_CSV is required")
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	repo := pgsql.NewRetryPolicyRepository(postgres.NewClient(db, log), log, cache.NewNoopCache(), 0)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	ctx := types.SetActor(context.Background(), "policy_import")
	stats, err := ImportRetryPolicies(ctx, repo, file, isDryRun, log)
	if err != nil {
		return err
	}

	log.Infow("retry policy import finished",
		"dry_run", isDryRun,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
	)
	return nil
}

// ImportRetryPolicies upserts one policy per segment. A row without a
// segment updates the policy with the same name among the unsegmented
// policies. The whole sheet is validated before anything is written.
func ImportRetryPolicies(ctx context.Context, repo dunning.PolicyRepository, r io.Reader, dryRun bool, log *logger.Logger) (*ImportStats, error) {
	var rows []*RetryPolicyRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Policy sheet could not be parsed").
			Mark(ierr.ErrValidation)
	}

	policies := make([]*dunning.RetryPolicy, 0, len(rows))
	for i, row := range rows {
		policy, err := row.toPolicy()
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Row %d (%s) is invalid", i+2, row.Name).
				Mark(ierr.ErrValidation)
		}
		policies = append(policies, policy)
	}

	existing, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	now := time.Now().UTC()
	actor := types.GetActor(ctx)
	for _, policy := range policies {
		current, found := lo.Find(existing, func(p *dunning.RetryPolicy) bool {
			if policy.Segment != "" {
				return strings.EqualFold(p.Segment, policy.Segment)
			}
			return p.Segment == "" && p.Name == policy.Name
		})

		if found && samePolicy(current, policy) {
			stats.Skipped++
			continue
		}

		if dryRun {
			log.Infow("would import retry policy", "name", policy.Name, "segment", policy.Segment, "update", found)
			if found {
				stats.Updated++
			} else {
				stats.Created++
			}
			continue
		}

		if found {
			policy.ID = current.ID
			policy.BaseModel = current.BaseModel
			policy.UpdatedAt = now
			policy.UpdatedBy = actor
			if err := repo.Update(ctx, policy); err != nil {
				return stats, err
			}
			stats.Updated++
			continue
		}

		policy.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RETRY_POLICY)
		policy.BaseModel = types.GetDefaultBaseModel(ctx)
		if err := repo.Create(ctx, policy); err != nil {
			return stats, err
		}
		stats.Created++
	}

	return stats, nil
}

func (row *RetryPolicyRow) toPolicy() (*dunning.RetryPolicy, error) {
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return nil, ierr.NewError("name is required").Mark(ierr.ErrValidation)
	}

	policy := &dunning.RetryPolicy{
		Name:                name,
		Segment:             strings.TrimSpace(row.Segment),
		MaxRetries:          row.MaxRetries,
		GracePeriodDays:     row.GracePeriodDays,
		EmailOnFirstFailure: row.EmailOnFirstFailure,
		EmailOnFinalFailure: row.EmailOnFinalFailure,
		RetryIntervalsDays:  []int{},
	}

	for _, part := range strings.Split(row.RetryIntervalsDays, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, err := strconv.Atoi(part)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid retry interval %q", part).
				Mark(ierr.ErrValidation)
		}
		policy.RetryIntervalsDays = append(policy.RetryIntervalsDays, days)
	}

	if v := strings.TrimSpace(row.LateFeeAfterRetry); v != "" {
		after, err := strconv.Atoi(v)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid late_fee_after_retry %q", v).
				Mark(ierr.ErrValidation)
		}
		policy.LateFeeAfterRetry = &after
	}
	if v := strings.TrimSpace(row.LateFeeAmount); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid late_fee_amount %q", v).
				Mark(ierr.ErrValidation)
		}
		policy.LateFeeAmount = &amount
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func samePolicy(a, b *dunning.RetryPolicy) bool {
	return a.Name == b.Name &&
		a.MaxRetries == b.MaxRetries &&
		slices.Equal(a.RetryIntervalsDays, b.RetryIntervalsDays) &&
		a.GracePeriodDays == b.GracePeriodDays &&
		a.EmailOnFirstFailure == b.EmailOnFirstFailure &&
		a.EmailOnFinalFailure == b.EmailOnFinalFailure &&
		lo.FromPtr(a.LateFeeAfterRetry) == lo.FromPtr(b.LateFeeAfterRetry) &&
		lo.FromPtr(a.LateFeeAmount).Equal(lo.FromPtr(b.LateFeeAmount))
}
