package auth

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// CodeGenerator produces one-time passcodes
type CodeGenerator interface {
	Generate() (string, error)
}

// HOTPCodeGenerator derives each six-digit code from a fresh random secret and
// counter, so codes are uniform and carry no relation to the issue time.
type HOTPCodeGenerator struct {
	digits otp.Digits
}

func NewHOTPCodeGenerator() *HOTPCodeGenerator {
	return &HOTPCodeGenerator{digits: otp.DigitsSix}
}

func (g *HOTPCodeGenerator) Generate() (string, error) {
	seed := make([]byte, 28)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("failed to read otp seed: %w", err)
	}

	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(seed[:20])
	counter := binary.BigEndian.Uint64(seed[20:])

	code, err := hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    g.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}

	return code, nil
}

// StaticCodeGenerator always returns Code. Used by tests and local fixtures.
type StaticCodeGenerator struct {
	Code string
}

func (g StaticCodeGenerator) Generate() (string, error) {
	return g.Code, nil
}
