// Package otp wraps time-based one-time-passcode generation over the shared
// secret provisioned out-of-band.
package otp

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/logging"
)

// Defaults matching the common authenticator configuration.
const (
	DefaultPeriod uint = 30
	DefaultSkew   uint = 1
)

// Generator produces deterministic TOTP codes for a shared secret: two codes
// computed independently within the same time step always match.
type Generator struct {
	secret string
	period uint
	skew   uint
	digits otp.Digits
	logger *logrus.Entry
}

// NewGenerator constructs a Generator over a base32 secret with the standard
// 30-second step and six digits.
func NewGenerator(secret string, logger *logrus.Entry) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("otp secret is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Generator{
		secret: secret,
		period: DefaultPeriod,
		skew:   DefaultSkew,
		digits: otp.DigitsSix,
		logger: logger,
	}, nil
}

// Generate computes the code for the given instant.
func (g *Generator) Generate(at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(g.secret, at, g.opts())
	if err != nil {
		return "", err
	}

	return code, nil
}

// Validate reports whether a code is valid at the given instant.
func (g *Generator) Validate(code string, at time.Time) bool {
	valid, err := totp.ValidateCustom(code, g.secret, at, g.opts())
	return valid && err == nil
}

// GenerateChecked generates a code and immediately validates it. A mismatch
// indicates a severe clock or secret-configuration defect; it is logged at
// error level and the code is still returned so one bad self-check never
// blocks issuance.
func (g *Generator) GenerateChecked(at time.Time) (string, error) {
	code, err := g.Generate(at)
	if err != nil {
		return "", err
	}

	if !g.Validate(code, at) {
		g.logger.WithFields(logging.Fields{
			"event": "otp_self_check_failed",
		}).Error("generated passcode failed immediate validation, check clock and secret configuration")
	}

	return code, nil
}

func (g *Generator) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    g.period,
		Skew:      g.skew,
		Digits:    g.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}
