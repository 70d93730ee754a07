package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
	"github.com/unclebandit/reach-backend/internal/repository/memory"
	"github.com/unclebandit/reach-backend/internal/service"
)

type recordingNotifier struct {
	mu      sync.Mutex
	intents []model.NotificationIntent
}

func (n *recordingNotifier) Dispatch(_ context.Context, intent model.NotificationIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, intent)
	return nil
}

func (n *recordingNotifier) all() []model.NotificationIntent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.NotificationIntent(nil), n.intents...)
}

// notifiedCount counts how many intents named each recipient.
func (n *recordingNotifier) notifiedCount() map[string]int {
	counts := map[string]int{}
	for _, intent := range n.all() {
		for _, id := range intent.RecipientIDs {
			counts[id]++
		}
	}
	return counts
}

type fixture struct {
	store     *memory.Store
	notifier  *recordingNotifier
	campaigns *service.CampaignService
	responses *service.ResponseService
}

// newFixture wires the services over an in-memory store seeded with the
// Haryana directory used throughout these tests.
func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the campaign repository used by both the
// service and the reconciliation engine.
func newFixtureWith(t *testing.T, wrap func(repository.CampaignRepositoryInterface) repository.CampaignRepositoryInterface) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.NewStore()
	seedDirectory(store)

	var campaigns repository.CampaignRepositoryInterface = store.Campaigns()
	if wrap != nil {
		campaigns = wrap(campaigns)
	}
	notifier := &recordingNotifier{}

	return &fixture{
		store:    store,
		notifier: notifier,
		campaigns: &service.CampaignService{
			Tx:           store,
			CampaignRepo: campaigns,
			ResponseRepo: store.Responses(),
			ProofRepo:    store.Proofs(),
			Resolver:     &service.TargetingResolver{Directory: store.Recipients()},
			Engine: &service.ReconciliationEngine{
				Campaigns: campaigns,
				Ledger:    store.Responses(),
				Log:       log,
			},
			Notifier:      notifier,
			Log:           log,
			MaxAttempts:   3,
			RetryInterval: time.Millisecond,
		},
		responses: &service.ResponseService{
			Tx:           store,
			CampaignRepo: campaigns,
			ResponseRepo: store.Responses(),
			Log:          log,
		},
	}
}

func seedDirectory(store *memory.Store) {
	for _, r := range []model.Recipient{
		{ID: "rep-001", Role: model.RoleReporter, Name: "Asha", Email: "asha@example.com", Phone: "+919000000001", State: "Haryana", City: "Gurugram", VerifiedReporter: true},
		{ID: "rep-002", Role: model.RoleReporter, Name: "Bharat", Email: "bharat@example.com", State: "Haryana", City: "Rohtak", VerifiedReporter: true},
		{ID: "rep-003", Role: model.RoleReporter, Name: "Chitra", Phone: "+919000000003", State: "Haryana", City: "Gurugram", VerifiedReporter: true},
		{ID: "rep-004", Role: model.RoleReporter, Name: "Dev", Email: "dev@example.com", State: "Haryana", City: "Panipat"},
		{ID: "rep-005", Role: model.RoleReporter, Name: "Esha", Email: "esha@example.com", State: "Delhi", City: "New Delhi", VerifiedReporter: true},
		{ID: "rep-006", Role: model.RoleReporter, Name: "Farhan", Email: "farhan@example.com", State: "Punjab", City: "Amritsar", VerifiedReporter: true},
		{ID: "inf-001", Role: model.RoleInfluencer, Name: "Gita", Email: "gita@example.com", State: "Delhi", City: "New Delhi", IsVerified: true},
		{ID: "inf-002", Role: model.RoleInfluencer, Name: "Hari", Email: "hari@example.com", State: "Haryana", City: "Gurugram", IsVerified: true},
		{ID: "inf-003", Role: model.RoleInfluencer, Name: "Isha", Email: "isha@example.com", State: "Goa", City: "Panaji"},
	} {
		store.AddRecipient(r)
	}
}

func explicit(role model.Role, ids ...string) model.TargetingDescriptor {
	return model.TargetingDescriptor{ExplicitRecipientIDs: map[model.Role][]string{role: ids}}
}

func inStates(states ...string) model.TargetingDescriptor {
	return model.TargetingDescriptor{Location: &model.LocationFilter{States: states}}
}

func (f *fixture) create(t *testing.T, role model.Role, d model.TargetingDescriptor) *service.WriteResult {
	t.Helper()
	out, err := f.campaigns.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:       "Monsoon sale",
		Kind:       model.KindPaidAd,
		TargetRole: role,
		Targeting:  d,
		Payload:    model.CampaignPayload{Title: "Monsoon sale"},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return out
}

func (f *fixture) modify(t *testing.T, id int64, d model.TargetingDescriptor) *service.WriteResult {
	t.Helper()
	out, err := f.campaigns.ModifyCampaign(context.Background(), id, service.ModifyCampaignInput{Targeting: d})
	if err != nil {
		t.Fatalf("modify campaign %d: %v", id, err)
	}
	return out
}
