// Package registration runs the OTP flow that adds a recipient to the
// directory. Pending registrations live in a TTL key-value store.
package registration

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/kvstore"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/notify"
)

const (
	maxAttempts = 5
	otpDigits   = 6
	templateID  = "registration_otp"
)

type RecipientCreator interface {
	Create(ctx context.Context, rec *model.Recipient) error
}

type Service struct {
	KV        kvstore.Store
	Directory RecipientCreator
	Email     notify.Sender
	TTL       time.Duration
	Log       *zap.Logger
}

type StartInput struct {
	Role  model.Role
	Name  string
	Email string
	Phone string
	State string
	City  string
}

type pending struct {
	Recipient model.Recipient `json:"recipient"`
	OTPHash   string          `json:"otp_hash"`
}

// Start stores a pending registration and emails its code. The returned token
// identifies the registration on Confirm.
func (s *Service) Start(ctx context.Context, in StartInput) (string, error) {
	if in.Role != model.RoleReporter && in.Role != model.RoleInfluencer {
		return "", fmt.Errorf("%w: %q", appErrors.ErrInvalidTargetRole, string(in.Role))
	}
	if strings.TrimSpace(in.Email) == "" {
		return "", fmt.Errorf("%w: email is required", appErrors.ErrValidation)
	}

	code, err := generateOTP()
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	p := pending{
		Recipient: model.Recipient{
			Role:  in.Role,
			Name:  in.Name,
			Email: in.Email,
			Phone: in.Phone,
			State: in.State,
			City:  in.City,
		},
		OTPHash: hashOTP(code),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if err := s.KV.Set(ctx, key(token), raw, s.TTL); err != nil {
		return "", fmt.Errorf("store pending registration: %w", err)
	}

	params := map[string]string{
		notify.ParamSubject: "Your verification code",
		notify.ParamBody:    fmt.Sprintf("Your verification code is %s. It expires in %s.", code, s.TTL),
	}
	if err := s.Email.Send(ctx, model.ChannelEmail, in.Email, templateID, params); err != nil {
		_ = s.KV.Delete(ctx, key(token))
		return "", fmt.Errorf("send verification code: %w", err)
	}

	s.Log.Info("registration started", zap.String("role", string(in.Role)), zap.Duration("ttl", s.TTL))
	return token, nil
}

// Confirm checks code and, on success, creates an unverified directory entry.
// The registration is discarded after maxAttempts wrong codes. Wrong codes
// are counted with an atomic increment and the registration is consumed with
// Take, so concurrent confirmations create at most one recipient.
func (s *Service) Confirm(ctx context.Context, token, code string) (*model.Recipient, error) {
	raw, err := s.KV.Get(ctx, key(token))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, appErrors.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, err
	}

	var p pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pending registration: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(hashOTP(code)), []byte(p.OTPHash)) != 1 {
		attempts, err := s.KV.Incr(ctx, attemptsKey(token), s.TTL)
		if err != nil {
			return nil, fmt.Errorf("count attempt: %w", err)
		}
		if attempts >= maxAttempts {
			if err := s.KV.Delete(ctx, key(token)); err != nil {
				return nil, fmt.Errorf("discard registration: %w", err)
			}
			s.Log.Warn("registration discarded after too many attempts", zap.Int64("attempts", attempts))
		}
		return nil, appErrors.ErrInvalidOTP
	}

	if _, err := s.KV.Take(ctx, key(token)); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			// confirmed concurrently, discarded or expired
			return nil, appErrors.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("consume registration: %w", err)
	}
	_ = s.KV.Delete(ctx, attemptsKey(token))

	rec := p.Recipient
	rec.ID = idPrefix(rec.Role) + uuid.NewString()
	if err := s.Directory.Create(ctx, &rec); err != nil {
		return nil, fmt.Errorf("create recipient: %w", err)
	}
	s.Log.Info("registration confirmed", zap.String("recipient_id", rec.ID), zap.String("role", string(rec.Role)))
	return &rec, nil
}

func key(token string) string {
	return "registration:" + token
}

func attemptsKey(token string) string {
	return "registration:" + token + ":attempts"
}

func idPrefix(role model.Role) string {
	if role == model.RoleInfluencer {
		return "inf-"
	}
	return "rep-"
}

func generateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}
