package money_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/money"
)

func TestMoney_Rescaling(t *testing.T) {
	// GIVEN: an amount computed at higher precision
	// WHEN: built through the constructor
	// THEN: it is rounded to exactly 2 places

	m := money.New(decimal.RequireFromString("10.005"))
	assert.Equal(t, "10.01", m.String())

	m = money.MustParse("50").MulRate(money.MustParseRate("0.075"))
	assert.Equal(t, "3.75", m.String())
}

func TestMoney_ParseAcceptsNumbersAndStrings(t *testing.T) {
	var m money.Money
	require.NoError(t, json.Unmarshal([]byte(`"100.00"`), &m))
	assert.True(t, m.Equal(money.FromInt(100)))

	require.NoError(t, json.Unmarshal([]byte(`100`), &m))
	assert.True(t, m.Equal(money.FromInt(100)))

	require.Error(t, json.Unmarshal([]byte(`"abc"`), &m))
}

func TestMoney_SingleLineInvoiceRoundTrip(t *testing.T) {
	// quantity=1, zero discount: qty*unit must round-trip exactly
	unit := money.MustParse("50.00")
	total := unit.Mul(decimal.NewFromInt(1))
	assert.True(t, total.Equal(unit))

	b, err := json.Marshal(total)
	require.NoError(t, err)
	assert.Equal(t, `"50.00"`, string(b))
}

func TestRate_Bounds(t *testing.T) {
	_, err := money.RateFromString("1.0001")
	assert.Error(t, err)

	_, err = money.RateFromString("-0.01")
	assert.Error(t, err)

	r, err := money.RateFromString("0")
	require.NoError(t, err)
	assert.True(t, r.IsZero())

	r, err = money.RateFromString("1")
	require.NoError(t, err)
	assert.Equal(t, "1.0000", r.String())
}

func TestDate_Normalization(t *testing.T) {
	d, err := money.ParseDate("2025-03-10T23:59:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", d.String())

	d2, err := money.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.True(t, d.Equal(d2))

	_, err = money.ParseDate("10/03/2025")
	assert.Error(t, err)
}

func TestDate_TodayInTimezone(t *testing.T) {
	// TodayIn judges the calendar day in the given zone; a date equal to
	// today must never compare After today.
	loc, err := time.LoadLocation("Pacific/Auckland")
	require.NoError(t, err)

	today := money.TodayIn(loc)
	assert.False(t, today.After(today))
	assert.True(t, today.AddDays(1).After(today))
}
