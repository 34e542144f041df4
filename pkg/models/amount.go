package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
)

// Amount represents a monetary amount as reported by a provider,
// kept as the original decimal string plus its currency code.
type Amount struct {
	Value    string `json:"value" yaml:"value"`
	Currency string `json:"currency" yaml:"currency"`
}

func (a Amount) ToMoney() *money.Money {
	split := strings.Split(a.Value, ".")
	currency := money.GetCurrency(a.Currency)
	if currency == nil {
		panic(fmt.Sprintf("unknown currency code %q", a.Currency))
	}
	if len(split) == 1 {
		split = append(split, strings.Repeat("0", currency.Fraction))
	} else if len(split) == 2 && len(split[1]) < currency.Fraction {
		for i := len(split[1]); i < currency.Fraction; i++ {
			split[1] += "0"
		}
	} else if len(split) == 2 && len(split[1]) >= currency.Fraction {
		split[1] = split[1][:currency.Fraction]
	}
	intTranslation, err := strconv.ParseInt(strings.Join(split, ""), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("failed to parse amount: original split %v: %v", split, err))
	}
	return money.New(intTranslation, a.Currency)
}

// FromMoney converts back to the decimal string representation.
func FromMoney(m *money.Money) Amount {
	return Amount{
		Value:    formatMinorUnits(m.Amount(), m.Currency().Fraction),
		Currency: m.Currency().Code,
	}
}

func formatMinorUnits(v int64, fraction int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if fraction == 0 {
		return sign + strconv.FormatInt(v, 10)
	}
	div := int64(1)
	for i := 0; i < fraction; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, v/div, fraction, v%div)
}

// Add returns a+b. Both amounts must be in the same currency.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, err := a.ToMoney().Add(b.ToMoney())
	if err != nil {
		return Amount{}, fmt.Errorf("failed to add amounts: %w", err)
	}
	return FromMoney(sum), nil
}

// Neg returns the amount with its sign flipped.
func (a Amount) Neg() Amount {
	return FromMoney(a.ToMoney().Negative())
}

func (a Amount) IsZero() bool {
	return a.ToMoney().IsZero()
}

// Equals compares value and currency.
func (a Amount) Equals(b Amount) bool {
	eq, err := a.ToMoney().Equals(b.ToMoney())
	if err != nil {
		return false
	}
	return eq
}

func (a Amount) String() string {
	return a.Value + " " + a.Currency
}
