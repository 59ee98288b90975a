/*
# Module: types/amount.go
Currency-agnostic decimal amount with JSON and DynamoDB encodings.

## Linked Modules
(None - wraps shopspring/decimal)

## Tags
data-types, money, decimal

## Exports
Amount, NewAmount, MustAmount

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/amount.go" ;
    code:description "Currency-agnostic decimal amount with JSON and DynamoDB encodings" ;
    code:exports :Amount, :NewAmount, :MustAmount ;
    code:tags "data-types", "money", "decimal" .
<!-- End LinkedDoc RDF -->
*/
package types

import (
	"fmt"

	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Amount is a decimal money value. It is stored in DynamoDB as a number
// attribute and encoded in JSON as a fixed-point string.
type Amount struct {
	decimal.Decimal
}

// NewAmount parses a decimal string such as "5" or "12.50"
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Decimal: d}, nil
}

// MustAmount is NewAmount for constants and tests
func MustAmount(s string) Amount {
	a, err := NewAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Display renders the amount with two decimal places
func (a Amount) Display() string {
	return a.StringFixed(2)
}

// MarshalJSON encodes the amount as a string with at least two decimal
// places, so "5" is sent as "5.00"
func (a Amount) MarshalJSON() ([]byte, error) {
	s := a.String()
	if a.Exponent() >= -2 {
		s = a.StringFixed(2)
	}
	return []byte(`"` + s + `"`), nil
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler
func (a Amount) MarshalDynamoDBAttributeValue() (dynamodbtypes.AttributeValue, error) {
	return &dynamodbtypes.AttributeValueMemberN{Value: a.String()}, nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler
func (a *Amount) UnmarshalDynamoDBAttributeValue(av dynamodbtypes.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *dynamodbtypes.AttributeValueMemberN:
		raw = v.Value
	case *dynamodbtypes.AttributeValueMemberS:
		raw = v.Value
	case *dynamodbtypes.AttributeValueMemberNULL:
		a.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for amount", av)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("failed to parse stored amount %q: %w", raw, err)
	}
	a.Decimal = d
	return nil
}
