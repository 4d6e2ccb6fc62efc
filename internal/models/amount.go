// internal/models/amount.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// TokenDecimals is the number of implied decimals in every Amount.
const TokenDecimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// Amount is an unsigned 18-decimal fixed point token quantity held in base
// units. Values are immutable; arithmetic returns new Amounts. It is stored
// as decimal text so no precision is lost in either database.
type Amount struct {
	n *big.Int
}

func NewAmount(baseUnits int64) Amount {
	return Amount{n: big.NewInt(baseUnits)}
}

// TokenUnits converts whole tokens to base units.
func TokenUnits(tokens int64) Amount {
	return Amount{n: new(big.Int).Mul(big.NewInt(tokens), unit)}
}

// ParseAmount parses a base-unit decimal string. Negative values are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return Amount{}, fmt.Errorf("negative amount %q", s)
	}
	return Amount{n: n}, nil
}

func (a Amount) big() *big.Int {
	if a.n == nil {
		return new(big.Int)
	}
	return a.n
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.big())
}

func (a Amount) Add(b Amount) Amount {
	return Amount{n: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a-b. Callers check Cmp first; the ledger never stores a negative.
func (a Amount) Sub(b Amount) Amount {
	return Amount{n: new(big.Int).Sub(a.big(), b.big())}
}

// MulBps returns a * bps / 10000 rounded down.
func (a Amount) MulBps(bps int64) Amount {
	n := new(big.Int).Mul(a.big(), big.NewInt(bps))
	return Amount{n: n.Quo(n, big.NewInt(10000))}
}

// MulInt returns a * k.
func (a Amount) MulInt(k int64) Amount {
	return Amount{n: new(big.Int).Mul(a.big(), big.NewInt(k))}
}

func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }
func (a Amount) Sign() int        { return a.big().Sign() }
func (a Amount) IsZero() bool     { return a.Sign() == 0 }
func (a Amount) String() string   { return a.big().String() }

// Tokens renders the amount with its decimal point, e.g. "12.5".
func (a Amount) Tokens() string {
	q, r := new(big.Int).QuoRem(a.big(), unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", TokenDecimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}

func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *Amount) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case nil:
		a.n = new(big.Int)
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		a.n = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("unsupported amount source type %T", value)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted base-unit string or a bare integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		a.n = new(big.Int)
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
