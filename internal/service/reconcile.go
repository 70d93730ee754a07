package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
)

// ReconcileResult partitions a resolution against the recipients already
// holding a response record. Every slice is sorted.
type ReconcileResult struct {
	ToInsert  []string `json:"to_insert"`
	Preserved []string `json:"preserved"`
	Dropped   []string `json:"dropped"`
	Selected  []string `json:"selected"`
	// NotificationIntent is always equal to ToInsert.
	NotificationIntent []string `json:"notification_intent"`
}

// Diff computes the reconciliation buckets of resolved against known.
func Diff(known, resolved []string) ReconcileResult {
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}
	resolvedSet := make(map[string]struct{}, len(resolved))

	res := ReconcileResult{
		ToInsert:  []string{},
		Preserved: []string{},
		Dropped:   []string{},
		Selected:  []string{},
	}
	for _, id := range resolved {
		if _, dup := resolvedSet[id]; dup {
			continue
		}
		resolvedSet[id] = struct{}{}
		if _, ok := knownSet[id]; ok {
			res.Preserved = append(res.Preserved, id)
		} else {
			res.ToInsert = append(res.ToInsert, id)
		}
		res.Selected = append(res.Selected, id)
	}
	for id := range knownSet {
		if _, ok := resolvedSet[id]; !ok {
			res.Dropped = append(res.Dropped, id)
		}
	}

	sort.Strings(res.ToInsert)
	sort.Strings(res.Preserved)
	sort.Strings(res.Dropped)
	sort.Strings(res.Selected)
	res.NotificationIntent = append([]string{}, res.ToInsert...)
	return res
}

type ReconciliationEngine struct {
	Campaigns repository.CampaignRepositoryInterface
	Ledger    repository.ResponseRepositoryInterface
	Log       *zap.Logger
}

// Reconcile must run inside a transaction. campaign carries the new targeting
// and the version observed before resolution; a different stored version
// aborts with ErrReconciliationConflict. The version is bumped before any
// record is inserted, so a competing writer blocks on the campaign row and
// then fails its own version check.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, q repository.Querier, campaign *model.Campaign, resolved []string) (*ReconcileResult, error) {
	current, err := e.Campaigns.GetByID(ctx, q, campaign.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != campaign.Version {
		return nil, fmt.Errorf("campaign %d at version %d, expected %d: %w",
			campaign.ID, current.Version, campaign.Version, appErrors.ErrReconciliationConflict)
	}

	known, err := e.Ledger.KnownRecipients(ctx, q, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("load known recipients: %w", err)
	}

	result := Diff(known, resolved)
	campaign.SelectedRecipients = result.Selected

	summaries := make(map[string]model.ResponseStatus, len(result.ToInsert))
	for _, id := range result.ToInsert {
		summaries[id] = model.ResponsePending
	}
	if err := e.Campaigns.SaveReconciled(ctx, q, campaign, campaign.Version, summaries); err != nil {
		return nil, err
	}

	if err := e.Ledger.InsertPending(ctx, q, campaign.ID, result.ToInsert); err != nil {
		if errors.Is(err, appErrors.ErrDuplicateResponseRecord) {
			e.Log.Error("response record already existed for a recipient outside the known set",
				zap.Int64("campaign_id", campaign.ID),
				zap.Strings("to_insert", result.ToInsert),
				zap.Error(err),
			)
		}
		return nil, err
	}

	e.Log.Debug("campaign reconciled",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int64("version", campaign.Version),
		zap.Int("inserted", len(result.ToInsert)),
		zap.Int("preserved", len(result.Preserved)),
		zap.Int("dropped", len(result.Dropped)),
	)
	return &result, nil
}
