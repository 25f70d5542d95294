// Package access resolves a submitted PIN into a grant: bound to one
// operation, global admin, or nothing.
package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"closingdocs/api/internal/metrics"
	"closingdocs/api/internal/store"
)

// ErrLocked is returned when a client has exceeded its failed attempts.
var ErrLocked = errors.New("too many access attempts")

const (
	minCodeLength = 4
	maxCodeLength = 8
)

// Grant is the outcome of a successful access check. Operation is nil for
// an admin-only grant.
type Grant struct {
	Operation *store.Operation
	Admin     bool
}

type OperationFinder interface {
	FindOperationByPIN(ctx context.Context, pin string) (*store.Operation, error)
}

// Limiter tracks failed attempts per client key.
type Limiter interface {
	Check(ctx context.Context, key string) error
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type AdminConfig struct {
	PIN  string
	Hash string
}

type Gate struct {
	finder    OperationFinder
	adminPIN  string
	adminHash []byte
	limiter   Limiter
}

// NewGate builds a gate. A non-empty Hash takes precedence over PIN and must
// be a bcrypt hash of the upper-cased admin PIN. A plain PIN must have the
// same shape as any submitted code; an empty one disables admin access.
func NewGate(finder OperationFinder, admin AdminConfig) (*Gate, error) {
	g := &Gate{finder: finder}
	if hash := strings.TrimSpace(admin.Hash); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("admin pin hash: %w", err)
		}
		g.adminHash = []byte(hash)
		return g, nil
	}
	pin := Normalize(admin.PIN)
	if pin != "" && !wellFormed(pin) {
		return nil, fmt.Errorf("admin pin must be %d to %d letters or digits", minCodeLength, maxCodeLength)
	}
	g.adminPIN = pin
	return g, nil
}

// WithLimiter enables failed-attempt lockout for Attempt.
func (g *Gate) WithLimiter(limiter Limiter) *Gate {
	g.limiter = limiter
	return g
}

// Normalize trims and upper-cases a submitted code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wellFormed(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Resolve checks code against operation PINs and the admin PIN. ok is false
// when nothing matches; err is only set when the store fails.
func (g *Gate) Resolve(ctx context.Context, code string) (Grant, bool, error) {
	normalized := Normalize(code)
	if !wellFormed(normalized) {
		return Grant{}, false, nil
	}

	op, err := g.finder.FindOperationByPIN(ctx, normalized)
	if err != nil {
		return Grant{}, false, fmt.Errorf("resolve access code: %w", err)
	}

	admin := g.isAdmin(normalized)
	if op != nil {
		return Grant{Operation: op, Admin: admin}, true, nil
	}
	if admin {
		return Grant{Admin: true}, true, nil
	}
	return Grant{}, false, nil
}

// Attempt runs Resolve behind the limiter for clientKey. A locked client gets
// ErrLocked without the code being looked at.
func (g *Gate) Attempt(ctx context.Context, clientKey, code string) (Grant, bool, error) {
	if g.limiter != nil {
		if err := g.limiter.Check(ctx, clientKey); err != nil {
			if errors.Is(err, ErrLocked) {
				metrics.AccessAttemptsTotal.WithLabelValues(metrics.OutcomeLocked).Inc()
			}
			return Grant{}, false, err
		}
	}

	grant, ok, err := g.Resolve(ctx, code)
	if err != nil {
		metrics.AccessAttemptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Grant{}, false, err
	}

	if !ok {
		metrics.AccessAttemptsTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
		if g.limiter != nil {
			if err := g.limiter.RecordFailure(ctx, clientKey); err != nil {
				return Grant{}, false, err
			}
		}
		return Grant{}, false, nil
	}

	if grant.Operation == nil {
		metrics.AccessAttemptsTotal.WithLabelValues(metrics.OutcomeAdmin).Inc()
	} else {
		metrics.AccessAttemptsTotal.WithLabelValues(metrics.OutcomeGranted).Inc()
	}
	if g.limiter != nil {
		_ = g.limiter.Reset(ctx, clientKey)
	}
	return grant, true, nil
}

func (g *Gate) isAdmin(normalized string) bool {
	if len(g.adminHash) > 0 {
		return bcrypt.CompareHashAndPassword(g.adminHash, []byte(normalized)) == nil
	}
	if g.adminPIN == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.adminPIN), []byte(normalized)) == 1
}
