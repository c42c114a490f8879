package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	xerrors "OpenFX-Ledger/internal/errors"
)

// Amount is a quantity of a currency expressed in its minor units, so 10.50
// EUR is stored as 1050.
type Amount struct {
	Quantity int64  `json:"quantity"`
	Currency string `json:"currency"`
}

// NewAmount returns an amount of qty minor units of code.
func NewAmount(qty int64, code string) Amount {
	return Amount{Quantity: qty, Currency: code}
}

// ParseAmount parses text of the form "<decimal> <ISO-4217 code>", for example
// "10 EUR" or "-5.25 USD". Negative amounts parse; whether they are acceptable
// is decided by the validator.
func ParseAmount(text string) (Amount, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return Amount{}, xerrors.Newf(CodeAmountParse, "amount %q must be \"<value> <currency>\"", text)
	}
	code, scale, err := minorUnits(fields[1])
	if err != nil {
		return Amount{}, err
	}
	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Amount{}, xerrors.Wrap(CodeAmountParse, err, fmt.Sprintf("amount value %q is not a number", fields[0]))
	}
	minor := value.Shift(int32(scale))
	if !minor.IsInteger() {
		return Amount{}, xerrors.Newf(CodeAmountParse, "amount %q is more precise than %s allows", text, code)
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return Amount{}, xerrors.Newf(CodeAmountParse, "amount %q is out of range", text)
	}
	return Amount{Quantity: minor.IntPart(), Currency: code}, nil
}

// ParseCurrency validates an ISO-4217 code and returns it in canonical form.
func ParseCurrency(code string) (string, error) {
	canonical, _, err := minorUnits(code)
	return canonical, err
}

func minorUnits(code string) (string, int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", 0, xerrors.Wrap(CodeAmountParse, err, fmt.Sprintf("unknown currency %q", code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	return unit.String(), scale, nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	_, scale, err := minorUnits(a.Currency)
	if err != nil {
		scale = 0
	}
	return decimal.New(a.Quantity, -int32(scale))
}

// String formats the amount the way ParseAmount reads it.
func (a Amount) String() string {
	_, scale, err := minorUnits(a.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", a.Quantity, a.Currency)
	}
	return decimal.New(a.Quantity, -int32(scale)).StringFixed(int32(scale)) + " " + a.Currency
}
