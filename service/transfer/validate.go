package transfer

import (
	"errors"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ValidateAddress reports whether s decodes to a 32-byte base58 public key.
func ValidateAddress(s string) bool {
	_, err := CheckAddress(s)
	return err == nil
}

// ValidateAmount reports whether s is a positive decimal no greater than balance.
// A nil balance skips the upper bound.
func ValidateAmount(s string, balance *string) bool {
	_, err := CheckAmount(s, balance)
	return err == nil
}

// CheckAddress parses a recipient address.
func CheckAddress(s string) (solanago.PublicKey, error) {
	key, err := solanago.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solanago.PublicKey{}, newError(KindInvalidRecipient, "Invalid recipient address", nil)
	}
	return key, nil
}

// CheckAmount parses a display-unit amount and checks it against the balance.
// No rounding happens here.
func CheckAmount(s string, balance *string) (decimal.Decimal, error) {
	amount, err := parseDecimal(s)
	if err != nil {
		return decimal.Decimal{}, newError(KindInvalidAmount, "Invalid amount", nil)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, newError(KindInvalidAmount, "Amount must be greater than 0", nil)
	}
	if balance != nil {
		available, err := parseDecimal(*balance)
		if err != nil {
			return decimal.Decimal{}, newError(KindInvalidAmount, "Invalid balance", nil)
		}
		if amount.GreaterThan(available) {
			return decimal.Decimal{}, newError(KindInvalidAmount, "Amount exceeds available balance", nil)
		}
	}
	return amount, nil
}

const (
	// maxDecimalLen bounds the text accepted as an amount or balance.
	maxDecimalLen = 128

	// maxExponent bounds the parsed exponent in both directions. Comparing or
	// scaling a decimal costs time proportional to its exponent.
	maxExponent = 64
)

var errDecimalOutOfRange = errors.New("decimal out of range")

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxDecimalLen {
		return decimal.Decimal{}, errDecimalOutOfRange
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !exponentInRange(d) {
		return decimal.Decimal{}, errDecimalOutOfRange
	}
	return d, nil
}

func exponentInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -maxExponent && exp <= maxExponent
}
