package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", d.String())
	assert.Equal(t, NewDate(2026, time.March, 15), d)
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("15/03/2026")
	assert.Error(t, err)

	_, err = ParseDate("")
	assert.Error(t, err)
}

func TestDateOf_TruncatesToDay(t *testing.T) {
	ts := time.Date(2026, time.January, 2, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, NewDate(2026, time.January, 2), DateOf(ts))
}

func TestAddDays_MonthRollover(t *testing.T) {
	d := NewDate(2026, time.January, 30)
	assert.Equal(t, NewDate(2026, time.February, 2), d.AddDays(3))
	assert.Equal(t, NewDate(2025, time.December, 31), d.AddDays(-30))
}

func TestBeforeAfter(t *testing.T) {
	a := NewDate(2026, time.May, 1)
	b := NewDate(2026, time.May, 2)

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
	assert.False(t, a.Before(a))
}

func TestDaysUntil(t *testing.T) {
	a := NewDate(2026, time.May, 1)
	b := NewDate(2026, time.May, 31)
	assert.Equal(t, 30, a.DaysUntil(b))
	assert.Equal(t, -30, b.DaysUntil(a))
}

func TestDate_TextRoundTrip(t *testing.T) {
	d := NewDate(2026, time.July, 4)
	b, err := d.MarshalText()
	require.NoError(t, err)

	var got Date
	require.NoError(t, got.UnmarshalText(b))
	assert.Equal(t, d, got)
}

func TestDate_IsZero(t *testing.T) {
	assert.True(t, Date{}.IsZero())
	assert.False(t, NewDate(2026, time.January, 1).IsZero())
}
