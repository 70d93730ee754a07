package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/metrics"
	"github.com/unclebandit/reach-backend/internal/repository"
)

// UnnotifiedReporter scans for pending records that never got a notification.
// It reports only; nothing is resent.
type UnnotifiedReporter struct {
	ResponseRepo repository.ResponseRepositoryInterface
	Grace        time.Duration
	Log          *zap.Logger
	Now          func() time.Time
}

// Run returns the number of unnotified pending records per campaign.
func (r *UnnotifiedReporter) Run(ctx context.Context) (map[int64]int, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	records, err := r.ResponseRepo.ListUnnotifiedPending(ctx, now().Add(-r.Grace))
	if err != nil {
		return nil, err
	}

	perCampaign := map[int64]int{}
	for _, rec := range records {
		perCampaign[rec.CampaignID]++
	}
	for campaignID, n := range perCampaign {
		r.Log.Warn("pending records without notification",
			zap.Int64("campaign_id", campaignID),
			zap.Int("count", n),
		)
	}
	metrics.UnnotifiedPending.Set(float64(len(records)))
	return perCampaign, nil
}
