package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a decimal quantity encoded as a bare JSON number, which is
// what the daemon sends and expects. Quoted numbers are accepted on input.
type Amount struct {
	decimal.Decimal
}

func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Decimal: d}, nil
}

func AmountFromFloat(f float64) Amount {
	return Amount{Decimal: decimal.NewFromFloat(f)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// TransferAmount is either a concrete amount or the literal "all",
// used when a transaction sweeps the whole account balance.
type TransferAmount struct {
	All   bool
	Value Amount
}

const transferAll = `"all"`

func (t TransferAmount) MarshalJSON() ([]byte, error) {
	if t.All {
		return []byte(transferAll), nil
	}
	return t.Value.MarshalJSON()
}

func (t *TransferAmount) UnmarshalJSON(b []byte) error {
	if string(b) == transferAll {
		t.All = true
		t.Value = Amount{}
		return nil
	}
	t.All = false
	return t.Value.UnmarshalJSON(b)
}
