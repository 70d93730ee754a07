// Package memory is a process-local implementation of the repository
// interfaces. Transactions are serialized and roll back by restoring a
// snapshot, so it is only suitable for development and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
)

type responseKey struct {
	campaignID  int64
	recipientID string
}

type tables struct {
	campaigns    map[int64]*model.Campaign
	responses    map[responseKey]*model.ResponseRecord
	repairs      []model.ProofRepair
	nextCampaign int64
	nextResponse int64
}

// Store holds every table. Writes made outside WithTransaction take txMu so a
// rollback never discards them.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tables
	recipients map[string]model.Recipient
	proofs     map[int64][]model.ProofSubmission
}

func NewStore() *Store {
	return &Store{
		tables: tables{
			campaigns: map[int64]*model.Campaign{},
			responses: map[responseKey]*model.ResponseRecord{},
		},
		recipients: map[string]model.Recipient{},
		proofs:     map[int64][]model.ProofSubmission{},
	}
}

// WithTransaction runs fn with a nil Querier. Repository calls made by fn must
// go through the views of this store, and fn must not call the non-transactional
// writers (MarkNotified, UpdateStatus, recipient Create).
func (s *Store) WithTransaction(ctx context.Context, fn repository.TxFn) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.tables.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, nil)
}

func (s *Store) restore(t tables) {
	s.mu.Lock()
	s.tables = t
	s.mu.Unlock()
}

func (t tables) clone() tables {
	out := tables{
		campaigns:    make(map[int64]*model.Campaign, len(t.campaigns)),
		responses:    make(map[responseKey]*model.ResponseRecord, len(t.responses)),
		repairs:      slices.Clone(t.repairs),
		nextCampaign: t.nextCampaign,
		nextResponse: t.nextResponse,
	}
	for id, c := range t.campaigns {
		out.campaigns[id] = cloneCampaign(c)
	}
	for k, r := range t.responses {
		rec := *r
		out.responses[k] = &rec
	}
	return out
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	out := *c
	out.SelectedRecipients = slices.Clone(c.SelectedRecipients)
	if out.SelectedRecipients == nil {
		out.SelectedRecipients = []string{}
	}
	out.RecipientSummaries = maps.Clone(c.RecipientSummaries)
	if out.RecipientSummaries == nil {
		out.RecipientSummaries = map[string]model.ResponseStatus{}
	}
	if c.Targeting.ExplicitRecipientIDs != nil {
		out.Targeting.ExplicitRecipientIDs = make(map[model.Role][]string, len(c.Targeting.ExplicitRecipientIDs))
		for role, ids := range c.Targeting.ExplicitRecipientIDs {
			out.Targeting.ExplicitRecipientIDs[role] = slices.Clone(ids)
		}
	}
	if c.Targeting.Location != nil {
		loc := model.LocationFilter{
			States: slices.Clone(c.Targeting.Location.States),
			Cities: slices.Clone(c.Targeting.Location.Cities),
		}
		out.Targeting.Location = &loc
	}
	if c.Targeting.Legacy != nil {
		legacy := *c.Targeting.Legacy
		out.Targeting.Legacy = &legacy
	}
	return &out
}

// AddRecipient seeds the directory.
func (s *Store) AddRecipient(r model.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.recipients[r.ID] = r
}

// AddProof seeds the external proof store.
func (s *Store) AddProof(p model.ProofSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.proofs[p.CampaignID] = append(s.proofs[p.CampaignID], p)
}

// Repairs returns the proof repair audit trail.
func (s *Store) Repairs() []model.ProofRepair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.repairs)
}

func (s *Store) Campaigns() *CampaignRepository   { return &CampaignRepository{s: s} }
func (s *Store) Responses() *ResponseRepository   { return &ResponseRepository{s: s} }
func (s *Store) Recipients() *RecipientRepository { return &RecipientRepository{s: s} }
func (s *Store) Proofs() *ProofRepository         { return &ProofRepository{s: s} }

// ====================== Campaigns ======================

type CampaignRepository struct {
	s *Store
}

func (r *CampaignRepository) Create(_ context.Context, _ repository.Querier, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextCampaign++
	c.ID = r.s.nextCampaign
	if c.Status == "" {
		c.Status = model.CampaignApproved
	}
	c.Version = 1
	c.CreatedAt = time.Now()
	if c.SelectedRecipients == nil {
		c.SelectedRecipients = []string{}
	}
	if c.RecipientSummaries == nil {
		c.RecipientSummaries = map[string]model.ResponseStatus{}
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *CampaignRepository) GetByID(_ context.Context, _ repository.Querier, id int64) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (r *CampaignRepository) SaveReconciled(_ context.Context, _ repository.Querier, c *model.Campaign, expectedVersion int64, newSummaries map[string]model.ResponseStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.campaigns[c.ID]
	if !ok || stored.Version != expectedVersion {
		return appErrors.ErrReconciliationConflict
	}

	now := time.Now()
	stored.Targeting = c.Targeting
	stored.Status = c.Status
	stored.SelectedRecipients = slices.Clone(c.SelectedRecipients)
	stored.RequiredRecipientCount = len(c.SelectedRecipients)
	stored.ReviewNote = c.ReviewNote
	for id, status := range newSummaries {
		if _, exists := stored.RecipientSummaries[id]; !exists {
			stored.RecipientSummaries[id] = status
		}
	}
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = &now
	r.s.campaigns[c.ID] = cloneCampaign(stored)

	c.Version = stored.Version
	c.RequiredRecipientCount = stored.RequiredRecipientCount
	c.UpdatedAt = &now
	return nil
}

func (r *CampaignRepository) SetRecipientSummary(_ context.Context, _ repository.Querier, campaignID int64, recipientID string, status model.ResponseStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	c.RecipientSummaries[recipientID] = status
	return nil
}

func (r *CampaignRepository) UpdateStatus(_ context.Context, campaignID int64, status model.CampaignStatus) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	now := time.Now()
	c.Status = status
	c.Version++
	c.UpdatedAt = &now
	return nil
}

func (r *CampaignRepository) ListCampaigns(_ context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	filtered := []*model.Campaign{}
	for _, c := range r.s.campaigns {
		if kind != "" && string(c.Kind) != kind {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, cloneCampaign(c))
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := min(offset+limit, total)
	return filtered[offset:end], total, nil
}

// ====================== Responses ======================

type ResponseRepository struct {
	s *Store
}

func (r *ResponseRepository) KnownRecipients(_ context.Context, _ repository.Querier, campaignID int64) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	known := []string{}
	for k := range r.s.responses {
		if k.campaignID == campaignID {
			known = append(known, k.recipientID)
		}
	}
	sort.Strings(known)
	return known, nil
}

func (r *ResponseRepository) InsertPending(_ context.Context, _ repository.Querier, campaignID int64, recipientIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range recipientIDs {
		if _, exists := r.s.responses[responseKey{campaignID, id}]; exists {
			return appErrors.ErrDuplicateResponseRecord
		}
	}
	now := time.Now()
	for _, id := range recipientIDs {
		r.s.nextResponse++
		r.s.responses[responseKey{campaignID, id}] = &model.ResponseRecord{
			ID:          r.s.nextResponse,
			CampaignID:  campaignID,
			RecipientID: id,
			Status:      model.ResponsePending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return nil
}

func (r *ResponseRepository) InsertSeeded(_ context.Context, _ repository.Querier, rec *model.ResponseRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := responseKey{rec.CampaignID, rec.RecipientID}
	if _, exists := r.s.responses[key]; exists {
		return appErrors.ErrDuplicateResponseRecord
	}
	r.s.nextResponse++
	now := time.Now()
	rec.ID = r.s.nextResponse
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := *rec
	r.s.responses[key] = &stored
	return nil
}

func (r *ResponseRepository) Get(_ context.Context, _ repository.Querier, campaignID int64, recipientID string) (*model.ResponseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.responses[responseKey{campaignID, recipientID}]
	if !ok {
		return nil, appErrors.ErrResponseNotFound
	}
	out := *rec
	return &out, nil
}

func (r *ResponseRepository) ApplyTransition(_ context.Context, _ repository.Querier, rec *model.ResponseRecord, from model.ResponseStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := responseKey{rec.CampaignID, rec.RecipientID}
	stored, ok := r.s.responses[key]
	if !ok || stored.Status != from {
		return appErrors.ErrStaleResponse
	}
	rec.UpdatedAt = time.Now()
	stored.Status = rec.Status
	stored.RespondedAt = rec.RespondedAt
	stored.ProofRef = rec.ProofRef
	stored.RejectionNote = rec.RejectionNote
	stored.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *ResponseRepository) MarkNotified(_ context.Context, campaignID int64, recipientID string, at time.Time) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rec, ok := r.s.responses[responseKey{campaignID, recipientID}]; ok && rec.NotifiedAt == nil {
		rec.NotifiedAt = &at
	}
	return nil
}

func (r *ResponseRepository) ListByCampaign(_ context.Context, campaignID int64) ([]*model.ResponseRecord, error) {
	return r.collect(func(rec *model.ResponseRecord) bool { return rec.CampaignID == campaignID }), nil
}

func (r *ResponseRepository) ListUnnotifiedPending(_ context.Context, createdBefore time.Time) ([]*model.ResponseRecord, error) {
	return r.collect(func(rec *model.ResponseRecord) bool {
		return rec.Status == model.ResponsePending && rec.NotifiedAt == nil && rec.CreatedAt.Before(createdBefore)
	}), nil
}

func (r *ResponseRepository) collect(match func(*model.ResponseRecord) bool) []*model.ResponseRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.ResponseRecord{}
	for _, rec := range r.s.responses {
		if match(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampaignID != out[j].CampaignID {
			return out[i].CampaignID < out[j].CampaignID
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	return out
}

func (r *ResponseRepository) GetCampaignStats(_ context.Context, campaignID int64) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := map[string]int{}
	for k, rec := range r.s.responses {
		if k.campaignID == campaignID {
			stats[string(rec.Status)]++
		}
	}
	return stats, nil
}

// ====================== Recipients ======================

type RecipientRepository struct {
	s *Store
}

func (r *RecipientRepository) Find(_ context.Context, q model.DirectoryQuery) ([]model.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []model.Recipient{}
	for _, rec := range r.s.recipients {
		if rec.Role != q.Role {
			continue
		}
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, rec.ID) {
			continue
		}
		if len(q.States) > 0 && !containsFold(q.States, rec.State) {
			continue
		}
		if len(q.Cities) > 0 && !containsFold(q.Cities, rec.City) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RecipientRepository) GetByIDs(_ context.Context, ids []string) ([]model.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []model.Recipient{}
	for _, id := range ids {
		if rec, ok := r.s.recipients[id]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RecipientRepository) Create(_ context.Context, rec *model.Recipient) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec.CreatedAt = time.Now()
	r.s.recipients[rec.ID] = *rec
	return nil
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}

// ====================== Proofs ======================

type ProofRepository struct {
	s *Store
}

func (r *ProofRepository) ListByCampaign(_ context.Context, _ repository.Querier, campaignID int64) ([]model.ProofSubmission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := slices.Clone(r.s.proofs[campaignID])
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	if out == nil {
		out = []model.ProofSubmission{}
	}
	return out, nil
}

func (r *ProofRepository) RecordRepair(_ context.Context, _ repository.Querier, repair *model.ProofRepair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.repairs = append(r.s.repairs, *repair)
	return nil
}

var (
	_ repository.Transactor                   = (*Store)(nil)
	_ repository.CampaignRepositoryInterface  = (*CampaignRepository)(nil)
	_ repository.ResponseRepositoryInterface  = (*ResponseRepository)(nil)
	_ repository.RecipientRepositoryInterface = (*RecipientRepository)(nil)
	_ repository.ProofRepositoryInterface     = (*ProofRepository)(nil)
)
