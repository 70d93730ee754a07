package service_test

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
	"github.com/unclebandit/reach-backend/internal/service"
)

func recipientIDs(records []*model.ResponseRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.RecipientID
	}
	return ids
}

func TestCreateCampaignNotifiesEveryNewRecipient(t *testing.T) {
	f := newFixture(t)
	out := f.create(t, model.RoleReporter, inStates("Haryana"))

	want := []string{"rep-001", "rep-002", "rep-003"}
	assert.Equal(t, want, out.Reconcile.ToInsert)
	assert.Equal(t, want, out.Campaign.SelectedRecipients)
	assert.Equal(t, model.CampaignApproved, out.Campaign.Status)

	intents := f.notifier.all()
	require.Len(t, intents, 1)
	assert.Equal(t, want, intents[0].RecipientIDs)
	assert.Equal(t, out.Campaign.ID, intents[0].CampaignID)
	assert.NotEmpty(t, intents[0].BatchID)
	assert.Equal(t, "New campaign: Monsoon sale", intents[0].Content.Subject)

	records, err := f.campaigns.ListResponses(context.Background(), out.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, want, recipientIDs(records))
	for _, r := range records {
		assert.Equal(t, model.ResponsePending, r.Status)
	}
}

func TestModifyNarrowingPreservesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, model.RoleReporter, inStates("Haryana"))

	out := f.modify(t, created.Campaign.ID, explicit(model.RoleReporter, "rep-002"))

	assert.Empty(t, out.Reconcile.ToInsert)
	assert.Equal(t, []string{"rep-002"}, out.Reconcile.Preserved)
	assert.Equal(t, []string{"rep-001", "rep-003"}, out.Reconcile.Dropped)
	assert.Empty(t, out.Reconcile.NotificationIntent)
	assert.Equal(t, []string{"rep-002"}, out.Campaign.SelectedRecipients)
	assert.Equal(t, model.CampaignModified, out.Campaign.Status)

	// no second intent
	assert.Len(t, f.notifier.all(), 1)

	records, err := f.campaigns.ListResponses(ctx, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rep-001", "rep-002", "rep-003"}, recipientIDs(records))
}

func TestModifyNotifiesEachRecipientAtMostOnce(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, model.RoleReporter, explicit(model.RoleReporter, "rep-001", "rep-002"))

	out := f.modify(t, created.Campaign.ID, explicit(model.RoleReporter, "rep-002", "rep-005"))
	assert.Equal(t, []string{"rep-005"}, out.Reconcile.ToInsert)
	assert.Equal(t, []string{"rep-002"}, out.Reconcile.Preserved)
	assert.Equal(t, []string{"rep-001"}, out.Reconcile.Dropped)

	// bring rep-001 back: it already holds a record, so no new notification
	out = f.modify(t, created.Campaign.ID, explicit(model.RoleReporter, "rep-001", "rep-002", "rep-005"))
	assert.Empty(t, out.Reconcile.ToInsert)

	assert.Equal(t, map[string]int{"rep-001": 1, "rep-002": 1, "rep-005": 1}, f.notifier.notifiedCount())
	assert.Len(t, f.notifier.all(), 2)
}

func TestModifyNeverResetsProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, model.RoleReporter, explicit(model.RoleReporter, "rep-001"))
	id := created.Campaign.ID

	_, err := f.responses.Respond(ctx, id, "rep-001", model.ActionAccept)
	require.NoError(t, err)
	_, err = f.responses.SubmitProof(ctx, id, "rep-001", "https://cdn.example.com/p/1.jpg")
	require.NoError(t, err)
	_, err = f.responses.Review(ctx, id, "rep-001", true, "")
	require.NoError(t, err)

	f.modify(t, id, explicit(model.RoleReporter, "rep-002"))
	out := f.modify(t, id, explicit(model.RoleReporter, "rep-001", "rep-002"))
	assert.Equal(t, []string{"rep-001", "rep-002"}, out.Reconcile.Preserved)

	rec, err := f.store.Responses().Get(ctx, nil, id, "rep-001")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseCompleted, rec.Status)
	assert.Equal(t, "https://cdn.example.com/p/1.jpg", rec.ProofRef)

	c, err := f.store.Campaigns().GetByID(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, model.ResponseCompleted, c.RecipientSummaries["rep-001"])
	assert.Equal(t, model.ResponsePending, c.RecipientSummaries["rep-002"])
	assert.Equal(t, 1, f.notifier.notifiedCount()["rep-001"])
}

func TestConcurrentModifyNotifiesEachRecipientAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, model.RoleReporter, explicit(model.RoleReporter, "rep-001")).Campaign.ID

	descriptors := []model.TargetingDescriptor{
		explicit(model.RoleReporter, "rep-001", "rep-002"),
		explicit(model.RoleReporter, "rep-003", "rep-005"),
		inStates("Haryana"),
		{AllPopulation: true},
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d := descriptors[(w+i)%len(descriptors)]
				_, err := f.campaigns.ModifyCampaign(ctx, id, service.ModifyCampaignInput{Targeting: d})
				if err != nil && !errors.Is(err, appErrors.ErrReconciliationConflict) {
					t.Errorf("modify campaign: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	counts := f.notifier.notifiedCount()
	notified := make([]string, 0, len(counts))
	for rid, n := range counts {
		assert.Equal(t, 1, n, "recipient %s", rid)
		notified = append(notified, rid)
	}
	sort.Strings(notified)

	records, err := f.campaigns.ListResponses(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notified, recipientIDs(records))
}

func TestCreateCampaignBothRoles(t *testing.T) {
	f := newFixture(t)
	d := explicit(model.RoleReporter, "rep-005")
	d.Location = &model.LocationFilter{States: []string{"Haryana"}}

	out := f.create(t, model.RoleBoth, d)
	assert.Equal(t, []string{"inf-002", "rep-005"}, out.Campaign.SelectedRecipients)
}

func TestCreateCampaignFallsBackToOrigin(t *testing.T) {
	f := newFixture(t)
	out, err := f.campaigns.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:       "Local ad",
		Kind:       model.KindFreeAd,
		TargetRole: model.RoleReporter,
		Payload:    model.CampaignPayload{Title: "Local ad", OriginState: "Punjab"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rep-006"}, out.Campaign.SelectedRecipients)
	require.NotNil(t, out.Campaign.Targeting.Legacy)
	assert.Equal(t, "Punjab", out.Campaign.Targeting.Legacy.OriginState)
}

func TestCreateCampaignValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.campaigns.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "x", Kind: model.KindFreeAd, TargetRole: model.RoleReporter,
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTargetingDescriptor)

	_, err = f.campaigns.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "x", Kind: model.KindFreeAd, TargetRole: "editor", Targeting: inStates("Haryana"),
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTargetRole)

	_, err = f.campaigns.CreateCampaign(ctx, service.CreateCampaignInput{
		Kind: model.KindFreeAd, TargetRole: model.RoleReporter, Targeting: inStates("Haryana"),
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Empty(t, f.notifier.all())
}

func TestModifyCompletedCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, model.RoleReporter, inStates("Haryana"))

	completed, err := f.campaigns.CompleteCampaign(ctx, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, completed.Status)

	// completing twice is a no-op
	again, err := f.campaigns.CompleteCampaign(ctx, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, completed.Version, again.Version)

	_, err = f.campaigns.ModifyCampaign(ctx, created.Campaign.ID, service.ModifyCampaignInput{Targeting: inStates("Delhi")})
	assert.ErrorIs(t, err, appErrors.ErrCampaignClosed)
	assert.Len(t, f.notifier.all(), 1)
}

func TestModifyUnknownCampaign(t *testing.T) {
	f := newFixture(t)
	_, err := f.campaigns.ModifyCampaign(context.Background(), 99, service.ModifyCampaignInput{Targeting: inStates("Delhi")})
	var notFound *appErrors.ErrCampaignNotFound
	assert.ErrorAs(t, err, &notFound)
}

// flakyCampaigns fails the version-checked write a fixed number of times, the
// way a concurrent writer winning the race would.
type flakyCampaigns struct {
	repository.CampaignRepositoryInterface
	failures int
	calls    int
}

func (f *flakyCampaigns) SaveReconciled(ctx context.Context, q repository.Querier, c *model.Campaign, expectedVersion int64, summaries map[string]model.ResponseStatus) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return appErrors.ErrReconciliationConflict
	}
	return f.CampaignRepositoryInterface.SaveReconciled(ctx, q, c, expectedVersion, summaries)
}

func TestConflictIsRetried(t *testing.T) {
	flaky := &flakyCampaigns{failures: 1}
	f := newFixtureWith(t, func(r repository.CampaignRepositoryInterface) repository.CampaignRepositoryInterface {
		flaky.CampaignRepositoryInterface = r
		return flaky
	})

	out := f.create(t, model.RoleReporter, inStates("Haryana"))
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, []string{"rep-001", "rep-002", "rep-003"}, out.Reconcile.ToInsert)

	// the failed attempt left nothing behind
	page, pagination, err := f.campaigns.ListCampaigns(context.Background(), 1, 10, "", "")
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, 1, pagination["total_count"])
	assert.Len(t, f.notifier.all(), 1)
}

func TestConflictExhaustsAttempts(t *testing.T) {
	flaky := &flakyCampaigns{}
	f := newFixtureWith(t, func(r repository.CampaignRepositoryInterface) repository.CampaignRepositoryInterface {
		flaky.CampaignRepositoryInterface = r
		return flaky
	})
	ctx := context.Background()
	created := f.create(t, model.RoleReporter, explicit(model.RoleReporter, "rep-001"))

	flaky.failures = 10
	flaky.calls = 0
	_, err := f.campaigns.ModifyCampaign(ctx, created.Campaign.ID, service.ModifyCampaignInput{Targeting: inStates("Haryana")})
	require.ErrorIs(t, err, appErrors.ErrReconciliationConflict)
	assert.Equal(t, http.StatusConflict, appErrors.HTTPStatus(err))
	assert.Equal(t, 3, flaky.calls)

	records, err := f.campaigns.ListResponses(ctx, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rep-001"}, recipientIDs(records))
	assert.Len(t, f.notifier.all(), 1)

	c, err := f.store.Campaigns().GetByID(ctx, nil, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignApproved, c.Status)
	assert.Equal(t, []string{"rep-001"}, c.SelectedRecipients)
}

func TestGetCampaignDetailsWithStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, model.RoleReporter, inStates("Haryana"))

	_, err := f.responses.Respond(ctx, created.Campaign.ID, "rep-002", model.ActionAccept)
	require.NoError(t, err)
	_, err = f.responses.Respond(ctx, created.Campaign.ID, "rep-003", model.ActionReject)
	require.NoError(t, err)

	details, err := f.campaigns.GetCampaignDetailsWithStats(ctx, created.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"total":     3,
		"pending":   1,
		"accepted":  1,
		"rejected":  1,
		"submitted": 0,
		"completed": 0,
	}, details.Stats)
	assert.Equal(t, created.Campaign.ID, details.ID)
}
