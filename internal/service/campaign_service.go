// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/metrics"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
)

// Notifier hands a notification intent to the dispatcher. It must not block
// on delivery.
type Notifier interface {
	Dispatch(ctx context.Context, intent model.NotificationIntent) error
}

type CampaignService struct {
	Tx           repository.Transactor
	CampaignRepo repository.CampaignRepositoryInterface
	ResponseRepo repository.ResponseRepositoryInterface
	ProofRepo    repository.ProofRepositoryInterface
	Resolver     *TargetingResolver
	Engine       *ReconciliationEngine
	Notifier     Notifier
	Log          *zap.Logger

	// MaxAttempts bounds resolve+reconcile runs per request on version conflicts.
	MaxAttempts   int
	RetryInterval time.Duration
}

type CreateCampaignInput struct {
	Name       string
	Kind       model.CampaignKind
	TargetRole model.Role
	Targeting  model.TargetingDescriptor
	Payload    model.CampaignPayload
}

type ModifyCampaignInput struct {
	Targeting  model.TargetingDescriptor
	ReviewNote *string
}

// WriteResult is returned by campaign writes that reconcile recipients.
type WriteResult struct {
	Campaign  *model.Campaign
	Reconcile *ReconcileResult
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*WriteResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", appErrors.ErrValidation)
	}
	if _, err := in.TargetRole.SubRoles(); err != nil {
		return nil, err
	}
	targeting := withLegacyFallback(in.Targeting, in.Payload)
	if err := targeting.Validate(); err != nil {
		return nil, err
	}

	var out *WriteResult
	err := s.retryOnConflict(ctx, func() error {
		resolution, err := s.Resolver.Resolve(ctx, targeting, in.TargetRole)
		if err != nil {
			return err
		}

		c := &model.Campaign{
			Name:       in.Name,
			Kind:       in.Kind,
			TargetRole: in.TargetRole,
			Targeting:  targeting,
			Status:     model.CampaignApproved,
			Payload:    in.Payload,
		}
		var result *ReconcileResult
		err = s.Tx.WithTransaction(ctx, func(ctx context.Context, q repository.Querier) error {
			if err := s.CampaignRepo.Create(ctx, q, c); err != nil {
				return fmt.Errorf("create campaign: %w", err)
			}
			result, err = s.Engine.Reconcile(ctx, q, c, resolution.Recipients)
			return err
		})
		if err != nil {
			return err
		}
		out = &WriteResult{Campaign: c, Reconcile: result}
		s.Log.Info("campaign created",
			zap.Int64("campaign_id", c.ID),
			zap.String("target_role", string(c.TargetRole)),
			zap.Any("tiers", tierNames(resolution.Tiers)),
			zap.Int("selected", len(c.SelectedRecipients)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, out)
	return out, nil
}

// ModifyCampaign re-resolves the campaign with a new descriptor. Recipients
// who already hold a record are never reset or notified again.
func (s *CampaignService) ModifyCampaign(ctx context.Context, id int64, in ModifyCampaignInput) (*WriteResult, error) {
	var out *WriteResult
	err := s.retryOnConflict(ctx, func() error {
		current, err := s.CampaignRepo.GetByID(ctx, nil, id)
		if err != nil {
			return err
		}
		if current.Status == model.CampaignCompleted {
			return appErrors.ErrCampaignClosed
		}

		targeting := withLegacyFallback(in.Targeting, current.Payload)
		if err := targeting.Validate(); err != nil {
			return err
		}
		resolution, err := s.Resolver.Resolve(ctx, targeting, current.TargetRole)
		if err != nil {
			return err
		}

		current.Targeting = targeting
		current.Status = model.CampaignModified
		if in.ReviewNote != nil {
			current.ReviewNote = *in.ReviewNote
		}

		var result *ReconcileResult
		err = s.Tx.WithTransaction(ctx, func(ctx context.Context, q repository.Querier) error {
			result, err = s.Engine.Reconcile(ctx, q, current, resolution.Recipients)
			return err
		})
		if err != nil {
			return err
		}
		out = &WriteResult{Campaign: current, Reconcile: result}
		s.Log.Info("campaign modified",
			zap.Int64("campaign_id", id),
			zap.Any("tiers", tierNames(resolution.Tiers)),
			zap.Int("inserted", len(result.ToInsert)),
			zap.Int("preserved", len(result.Preserved)),
			zap.Int("dropped", len(result.Dropped)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, out)
	return out, nil
}

// CompleteCampaign closes the campaign to further modification. Completing a
// completed campaign is a no-op.
func (s *CampaignService) CompleteCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignCompleted {
		return c, nil
	}
	if err := s.CampaignRepo.UpdateStatus(ctx, id, model.CampaignCompleted); err != nil {
		return nil, err
	}
	s.Log.Info("campaign completed", zap.Int64("campaign_id", id))
	return s.CampaignRepo.GetByID(ctx, nil, id)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, kind, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, kind, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.ResponseRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign %d stats: %w", id, err)
	}

	stats := map[string]int{
		"total":                         0,
		string(model.ResponsePending):   0,
		string(model.ResponseAccepted):  0,
		string(model.ResponseRejected):  0,
		string(model.ResponseSubmitted): 0,
		string(model.ResponseCompleted): 0,
	}
	for status, n := range counts {
		stats[status] = n
		stats["total"] += n
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// ListResponses returns every record of the campaign, including recipients
// no longer in the live selection.
func (s *CampaignService) ListResponses(ctx context.Context, id int64) ([]*model.ResponseRecord, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, nil, id); err != nil {
		return nil, err
	}
	return s.ResponseRepo.ListByCampaign(ctx, id)
}

// retryOnConflict reruns op from scratch while it fails with
// ErrReconciliationConflict. Other errors stop immediately.
func (s *CampaignService) retryOnConflict(ctx context.Context, op func() error) error {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.RetryInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 50 * time.Millisecond
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, appErrors.ErrReconciliationConflict):
			metrics.ReconcileTotal.WithLabelValues("conflict").Inc()
			s.Log.Warn("reconciliation conflict", zap.Int("attempt", attempt), zap.Error(err))
			return err
		default:
			metrics.ReconcileTotal.WithLabelValues("error").Inc()
			return backoff.Permanent(err)
		}
	}, policy)
}

// committed records metrics and hands the new arrivals to the notifier. A
// failed hand-off is logged only: the write has already committed.
func (s *CampaignService) committed(ctx context.Context, out *WriteResult) {
	r := out.Reconcile
	metrics.ReconcileTotal.WithLabelValues("committed").Inc()
	metrics.ReconcileRecipients.WithLabelValues("inserted").Add(float64(len(r.ToInsert)))
	metrics.ReconcileRecipients.WithLabelValues("preserved").Add(float64(len(r.Preserved)))
	metrics.ReconcileRecipients.WithLabelValues("dropped").Add(float64(len(r.Dropped)))

	if len(r.NotificationIntent) == 0 || s.Notifier == nil {
		return
	}
	intent := model.NotificationIntent{
		BatchID:      uuid.NewString(),
		CampaignID:   out.Campaign.ID,
		RecipientIDs: r.NotificationIntent,
		Content:      NotificationContent(out.Campaign),
	}
	if err := s.Notifier.Dispatch(ctx, intent); err != nil {
		s.Log.Error("failed to enqueue notification intent",
			zap.Int64("campaign_id", intent.CampaignID),
			zap.String("batch_id", intent.BatchID),
			zap.Int("recipients", len(intent.RecipientIDs)),
			zap.Error(err),
		)
	}
}

// withLegacyFallback fills the legacy tier from the ad's origin fields when the
// descriptor does not carry one.
func withLegacyFallback(d model.TargetingDescriptor, p model.CampaignPayload) model.TargetingDescriptor {
	if d.Legacy == nil && (p.OriginState != "" || p.OriginCity != "") {
		d.Legacy = &model.LegacyFilter{OriginState: p.OriginState, OriginCity: p.OriginCity}
	}
	return d
}

func tierNames(tiers map[model.Role]model.Tier) map[string]string {
	out := make(map[string]string, len(tiers))
	for role, tier := range tiers {
		out[string(role)] = tier.String()
	}
	return out
}
