package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BasketEntry one collateral asset inside a deposit
type BasketEntry struct {
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// Basket ordered, index-aligned list of deposited assets. Persisted as a JSON text column.
type Basket []BasketEntry

// NewBasket zips tokens and amounts. Callers validate lengths first.
func NewBasket(tokens []string, amounts []decimal.Decimal) Basket {
	basket := make(Basket, len(tokens))
	for i := range tokens {
		basket[i] = BasketEntry{Token: tokens[i], Amount: amounts[i]}
	}
	return basket
}

// Tokens returns the asset column of the basket
func (b Basket) Tokens() []string {
	tokens := make([]string, len(b))
	for i, e := range b {
		tokens[i] = e.Token
	}
	return tokens
}

// Amounts returns the amount column of the basket
func (b Basket) Amounts() []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(b))
	for i, e := range b {
		amounts[i] = e.Amount
	}
	return amounts
}

// IsEmpty true when the basket holds nothing releasable
func (b Basket) IsEmpty() bool {
	for _, e := range b {
		if e.Amount.IsPositive() {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer
func (b Basket) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (b *Basket) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*b = Basket{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported basket column type %T", value)
	}
	if len(data) == 0 {
		*b = Basket{}
		return nil
	}
	return json.Unmarshal(data, b)
}

// GormDataType stores the basket as text on every driver
func (Basket) GormDataType() string {
	return "text"
}
