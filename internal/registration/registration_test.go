package registration_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/kvstore"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/notify"
	"github.com/unclebandit/reach-backend/internal/registration"
	"github.com/unclebandit/reach-backend/internal/repository/memory"
)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type captureSender struct {
	to   string
	body string
	err  error
}

func (s *captureSender) Send(_ context.Context, _ model.Channel, to, _ string, params map[string]string) error {
	s.to = to
	s.body = params[notify.ParamBody]
	return s.err
}

func (s *captureSender) code(t *testing.T) string {
	t.Helper()
	code := codePattern.FindString(s.body)
	require.NotEmpty(t, code, "no code in %q", s.body)
	return code
}

func newService(t *testing.T) (*registration.Service, *captureSender, *memory.Store) {
	store := memory.NewStore()
	sender := &captureSender{}
	return &registration.Service{
		KV:        kvstore.NewMemoryStore(),
		Directory: store.Recipients(),
		Email:     sender,
		TTL:       10 * time.Minute,
		Log:       zaptest.NewLogger(t),
	}, sender, store
}

func validInput() registration.StartInput {
	return registration.StartInput{
		Role:  model.RoleInfluencer,
		Name:  "Gita",
		Email: "gita@example.com",
		State: "Delhi",
		City:  "New Delhi",
	}
}

func TestRegistrationConfirm(t *testing.T) {
	svc, sender, store := newService(t)
	ctx := context.Background()

	token, err := svc.Start(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "gita@example.com", sender.to)

	rec, err := svc.Confirm(ctx, token, sender.code(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.ID, "inf-"))
	assert.False(t, rec.IsVerified)

	found, err := store.Recipients().GetByIDs(ctx, []string{rec.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Delhi", found[0].State)

	// the token is single use
	_, err = svc.Confirm(ctx, token, sender.code(t))
	assert.ErrorIs(t, err, appErrors.ErrRegistrationNotFound)
}

func TestRegistrationDiscardedAfterTooManyAttempts(t *testing.T) {
	svc, sender, _ := newService(t)
	ctx := context.Background()

	token, err := svc.Start(ctx, validInput())
	require.NoError(t, err)
	wrong := "000000"
	if sender.code(t) == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		_, err = svc.Confirm(ctx, token, wrong)
		assert.ErrorIs(t, err, appErrors.ErrInvalidOTP, "attempt %d", i+1)
	}

	_, err = svc.Confirm(ctx, token, sender.code(t))
	assert.ErrorIs(t, err, appErrors.ErrRegistrationNotFound)
}

func TestRegistrationStartValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	in := validInput()
	in.Role = model.RoleBoth
	_, err := svc.Start(ctx, in)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTargetRole)

	in = validInput()
	in.Email = ""
	_, err = svc.Start(ctx, in)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRegistrationSendFailure(t *testing.T) {
	svc, sender, _ := newService(t)
	sender.err = errors.New("smtp down")

	token, err := svc.Start(context.Background(), validInput())
	assert.Error(t, err)
	assert.Empty(t, token)
}

// gatedKV holds every Get until the expected number of callers has read the
// registration, so the confirmations that follow overlap.
type gatedKV struct {
	kvstore.Store
	readers sync.WaitGroup
}

func (g *gatedKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := g.Store.Get(ctx, key)
	g.readers.Done()
	g.readers.Wait()
	return v, err
}

func confirmConcurrently(svc *registration.Service, kv *gatedKV, token string, codes ...string) []error {
	kv.readers.Add(len(codes))
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		i, code := i, code
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Confirm(context.Background(), token, code)
		}()
	}
	wg.Wait()
	return errs
}

func TestRegistrationConcurrentConfirmCreatesOneRecipient(t *testing.T) {
	svc, sender, store := newService(t)
	kv := &gatedKV{Store: svc.KV}
	svc.KV = kv

	token, err := svc.Start(context.Background(), validInput())
	require.NoError(t, err)
	code := sender.code(t)

	errs := confirmConcurrently(svc, kv, token, code, code)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, appErrors.ErrRegistrationNotFound)
		}
	}
	assert.Equal(t, 1, succeeded)

	found, err := store.Recipients().Find(context.Background(), model.DirectoryQuery{Role: model.RoleInfluencer})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestRegistrationConcurrentWrongCodesCountEveryAttempt(t *testing.T) {
	svc, sender, store := newService(t)
	kv := &gatedKV{Store: svc.KV}
	svc.KV = kv

	token, err := svc.Start(context.Background(), validInput())
	require.NoError(t, err)
	code := sender.code(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	// two rounds of two overlapping guesses, then a fifth on its own
	for round := 0; round < 2; round++ {
		for _, err := range confirmConcurrently(svc, kv, token, wrong, wrong) {
			assert.ErrorIs(t, err, appErrors.ErrInvalidOTP)
		}
	}
	errs := confirmConcurrently(svc, kv, token, wrong)
	assert.ErrorIs(t, errs[0], appErrors.ErrInvalidOTP)

	// the fifth wrong code discarded the registration
	errs = confirmConcurrently(svc, kv, token, code)
	assert.ErrorIs(t, errs[0], appErrors.ErrRegistrationNotFound)

	found, err := store.Recipients().Find(context.Background(), model.DirectoryQuery{Role: model.RoleInfluencer})
	require.NoError(t, err)
	assert.Empty(t, found)
}
