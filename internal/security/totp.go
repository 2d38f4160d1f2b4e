package security

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 2
)

var ErrTOTPSecretMissing = errors.New("totp secret missing")

type TOTPKey struct {
	Secret          string
	ProvisioningURI string
}

// TOTP wraps RFC 6238 generation and verification with fixed parameters
// (SHA1, six digits, 30s step, two steps of drift either side).
type TOTP struct {
	issuer string
	now    func() time.Time
}

func NewTOTP(issuer string) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "Tenant App"
	}
	return &TOTP{issuer: issuer, now: time.Now}
}

// WithNow returns a copy that reads time from now.
func (t *TOTP) WithNow(now func() time.Time) *TOTP {
	cp := *t
	cp.now = now
	return &cp
}

func (t *TOTP) Generate(accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &TOTPKey{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

func (t *TOTP) Validate(code, secret string) (bool, error) {
	if secret == "" {
		return false, ErrTOTPSecretMissing
	}
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), t.validateOpts())
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// CodeAt produces the code for secret at moment at.
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), t.validateOpts())
}

func (t *TOTP) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
