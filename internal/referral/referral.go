// Package referral admits new candidates on the word of an existing member.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/store"
)

const (
	DefaultBootstrapIdentity = "wezabis"
	DefaultPermanentCode     = "joinTheNetwork"
	DefaultCodeLength        = 8
	DefaultCodesPerMember    = 3

	alphabet          = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCollisionRetry = 10
)

// ErrInvalidReferral is returned for any failed verification. It never says which part was wrong.
var ErrInvalidReferral = errors.New("invalid referral")

type Store interface {
	FindByHandle(ctx context.Context, handle string) (*domain.Candidate, error)
	InsertCode(ctx context.Context, code domain.ReferralCode) error
	ConsumeCode(ctx context.Context, code, ownerID string, at time.Time) error
	CodesByOwner(ctx context.Context, ownerID string) ([]domain.ReferralCode, error)
}

type Config struct {
	BootstrapIdentity string `mapstructure:"bootstrap-identity"`
	PermanentCode     string `mapstructure:"permanent-code"`
	CodeLength        int    `mapstructure:"code-length"`
	CodesPerMember    int    `mapstructure:"codes-per-member"`
}

// Referrer is the member who vouched for a candidate.
type Referrer struct {
	// ID is the referrer's platform id, or the bootstrap identity itself.
	ID        string
	Handle    string
	Bootstrap bool
}

type Gate struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	random io.Reader
	now    func() time.Time
}

func New(s Store, cfg Config, logger *zap.Logger) *Gate {
	if cfg.BootstrapIdentity == "" {
		cfg.BootstrapIdentity = DefaultBootstrapIdentity
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = DefaultCodeLength
	}
	if cfg.CodesPerMember <= 0 {
		cfg.CodesPerMember = DefaultCodesPerMember
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: s, cfg: cfg, logger: logger, random: rand.Reader, now: time.Now}
}

// CodesPerMember is how many codes a newly accepted member receives.
func (g *Gate) CodesPerMember() int {
	return g.cfg.CodesPerMember
}

// Verify checks that referrerIdentity names an admitted member holding an unused code and consumes it.
func (g *Gate) Verify(ctx context.Context, referrerIdentity, code string) (*Referrer, error) {
	handle := domain.NormalizeHandle(referrerIdentity)
	code = strings.TrimSpace(code)
	if handle == "" || code == "" {
		return nil, ErrInvalidReferral
	}

	if handle == domain.NormalizeHandle(g.cfg.BootstrapIdentity) {
		g.logger.Info("referral accepted from bootstrap identity", zap.String("referrer", handle))
		return &Referrer{ID: handle, Handle: handle, Bootstrap: true}, nil
	}

	referrer, err := g.store.FindByHandle(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		g.logger.Debug("referrer not found", zap.String("referrer", handle))
		return nil, ErrInvalidReferral
	}
	if err != nil {
		return nil, fmt.Errorf("lookup referrer: %w", err)
	}
	if referrer.State == domain.StatePreReferral {
		g.logger.Debug("referrer is not admitted", zap.String("referrer", handle))
		return nil, ErrInvalidReferral
	}

	if err := g.store.ConsumeCode(ctx, code, referrer.PlatformID, g.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Debug("referral code rejected", zap.String("referrer", handle))
			return nil, ErrInvalidReferral
		}
		return nil, fmt.Errorf("consume referral code: %w", err)
	}

	return &Referrer{ID: referrer.PlatformID, Handle: referrer.Handle}, nil
}

// GenerateCodes creates n unused codes owned by ownerID. Codes are persisted before they are returned.
func (g *Gate) GenerateCodes(ctx context.Context, ownerID string, n int) ([]string, error) {
	if n <= 0 {
		n = g.cfg.CodesPerMember
	}

	codes := make([]string, 0, n)
	for len(codes) < n {
		code, err := g.insertUnique(ctx, ownerID)
		if err != nil {
			return codes, err
		}
		codes = append(codes, code)
	}

	g.logger.Info("referral codes generated", zap.String("owner_id", ownerID), zap.Int("count", len(codes)))
	return codes, nil
}

func (g *Gate) insertUnique(ctx context.Context, ownerID string) (string, error) {
	for attempt := 0; attempt < maxCollisionRetry; attempt++ {
		code, err := g.randomCode()
		if err != nil {
			return "", err
		}

		err = g.store.InsertCode(ctx, domain.ReferralCode{
			Code:      code,
			OwnerID:   ownerID,
			CreatedAt: g.now().UTC(),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store referral code: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("could not generate a unique referral code after %d attempts", maxCollisionRetry)
}

// randomCode draws uniformly from alphabet, rejecting bytes that would bias the modulo.
func (g *Gate) randomCode() (string, error) {
	limit := byte(256 - 256%len(alphabet))
	out := make([]byte, 0, g.cfg.CodeLength)
	buf := make([]byte, 1)
	for len(out) < g.cfg.CodeLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		if buf[0] >= limit {
			continue
		}
		out = append(out, alphabet[int(buf[0])%len(alphabet)])
	}
	return string(out), nil
}

// EnsurePermanentCode seeds the shared bootstrap code. It is a no-op when already present or unset.
func (g *Gate) EnsurePermanentCode(ctx context.Context) error {
	code := strings.TrimSpace(g.cfg.PermanentCode)
	if code == "" {
		return nil
	}
	err := g.store.InsertCode(ctx, domain.ReferralCode{Code: code, Permanent: true, CreatedAt: g.now().UTC()})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("seed permanent referral code: %w", err)
	}
	return nil
}
