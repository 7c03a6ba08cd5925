package extract

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		token string
		want  string
		ok    bool
	}{
		{"45,00", "45.00", true},
		{"45.00", "45.00", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"1.234.567,89", "1234567.89", true},
		{"10", "10.00", true},
		{"0,5", "0.50", true},
		{"1,234,567", "", false},
		{"1.2.3", "", false},
		{",", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseAmount(tt.token)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestAmountRecoveredInBothLocales(t *testing.T) {
	e := MustNew(Options{})

	for _, cents := range []int64{1, 99, 100, 4500, 123456, 999999, 1000000} {
		a := decimal.New(cents, -2)
		whole := cents / 100
		frac := cents % 100

		european := fmt.Sprintf("%s,%02d", groupThousands(whole, "."), frac)
		english := fmt.Sprintf("%s.%02d", groupThousands(whole, ","), frac)

		for _, token := range []string{european, english} {
			text := "Ha recibido " + token + " € de Juan"
			got, ok := e.Amount(text)
			require.True(t, ok, token)
			assert.True(t, got.Equal(a), "token %s parsed as %s", token, got)
		}
	}
}

func groupThousands(n int64, sep string) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out string
	for len(s) > 3 {
		out = sep + s[len(s)-3:] + out
		s = s[:len(s)-3]
	}
	return s + out
}

func TestAmountBounds(t *testing.T) {
	e := MustNew(Options{})

	for _, text := range []string{
		"ha recibido 0,00 €",
		"ha recibido 10000,01 €",
		"ha recibido 25.000,00 EUR",
	} {
		_, ok := e.Amount(text)
		assert.False(t, ok, text)
	}

	got, ok := e.Amount("importe recibido 10.000,00 EUR")
	require.True(t, ok)
	assert.Equal(t, "10000.00", got.StringFixed(2))
}

func TestAmountUsesFirstMatchOnly(t *testing.T) {
	e := MustNew(Options{})

	got, ok := e.Amount("Ha recibido 12,00 €\nImporte recibido 99,00 €")
	require.True(t, ok)
	assert.Equal(t, "12.00", got.StringFixed(2))
}

func TestAmountRequiresCurrencyMarker(t *testing.T) {
	e := MustNew(Options{})

	_, ok := e.Amount("ha recibido 12,00 USD")
	assert.False(t, ok)

	usd := MustNew(Options{CurrencyMarkers: []string{"$", "USD"}})
	got, ok := usd.Amount("ha recibido 12,00 USD")
	require.True(t, ok)
	assert.Equal(t, "12.00", got.StringFixed(2))
}

func TestNewRejectsEmptyMarkers(t *testing.T) {
	_, err := New(Options{CurrencyMarkers: []string{" "}})
	assert.Error(t, err)
}

func TestExtractReceivedPayment(t *testing.T) {
	e := MustNew(Options{})

	got := e.Extract("Juan le ha enviado\n45,00 €\nNota de Juan\n399876603229896704 gracias")

	require.True(t, got.Actionable())
	assert.Equal(t, "45.00", got.Amount.Decimal.StringFixed(2))
	assert.Equal(t, "399876603229896704 gracias", got.Note)
	assert.Equal(t, "399876603229896704", got.DonorID)
}

func TestExtractOutgoingGuardWins(t *testing.T) {
	e := MustNew(Options{})

	for _, text := range []string{
		"Has enviado un pago de 10,00 €",
		"Ha enviado un pago de 10,00 €\nNota de Juan\n399876603229896704",
		"You sent 10,00 EUR\nha recibido 10,00 €\nMensaje de X\n399876603229896704",
	} {
		got := e.Extract(text)
		assert.True(t, got.Outgoing, text)
		assert.False(t, got.Amount.Valid)
		assert.Empty(t, got.DonorID)
		assert.False(t, got.Actionable())
	}
}

func TestExtractFieldsAreIndependent(t *testing.T) {
	e := MustNew(Options{})

	noNote := e.Extract("Ha recibido 100,50 €")
	assert.True(t, noNote.Amount.Valid)
	assert.Empty(t, noNote.DonorID)
	assert.False(t, noNote.Actionable())

	noAmount := e.Extract("Mensaje de Ana\n12345678901234567890")
	assert.False(t, noAmount.Amount.Valid)
	assert.Equal(t, "12345678901234567890", noAmount.DonorID)
	assert.False(t, noAmount.Actionable())

	assert.True(t, e.Extract("nothing here").Empty())
}

func TestDonorIDOnlyFromNote(t *testing.T) {
	e := MustNew(Options{})

	got := e.Extract("Ha recibido 5,00 €\nID de transacción 399876603229896704\nNota de Ana\ngracias por todo")

	assert.True(t, got.Amount.Valid)
	assert.Equal(t, "gracias por todo", got.Note)
	assert.Empty(t, got.DonorID)
}

func TestDonorIDShape(t *testing.T) {
	for _, tt := range []struct {
		note string
		want string
	}{
		{"id 1234567890123456", ""},
		{"id 12345678901234567", "12345678901234567"},
		{"12345678901234567890", "12345678901234567890"},
		{"123456789012345678901", ""},
		{"a 399876603229896704 b 111111111111111111", "399876603229896704"},
	} {
		got, _ := DonorID(tt.note)
		assert.Equal(t, tt.want, got, tt.note)
	}
}
