package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountJSONUsesTwoDecimals(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5", `"5.00"`},
		{"12.5", `"12.50"`},
		{"0.99", `"0.99"`},
		{"1.005", `"1.005"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			data, err := json.Marshal(MustAmount(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestAmountJSONDecodes(t *testing.T) {
	var payload struct {
		Amount Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"7.25"}`), &payload))
	assert.Equal(t, "7.25", payload.Amount.Display())

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"7.25"}`, string(data))
}

func TestForOverlayDropsUnfilteredText(t *testing.T) {
	item := DonationItem{
		ID:              "d1",
		OrderID:         "ORDER-1",
		Name:            "[REDACTED]",
		OriginalName:    "John Smith",
		Amount:          MustAmount("5"),
		Message:         "hi [REDACTED]",
		OriginalMessage: "hi secretplace",
		PayerToken:      "payer",
		Source:          "paypal",
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	for name, in := range map[string]interface{}{"value": item, "pointer": &item} {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(ForOverlay(in))
			require.NoError(t, err)
			body := string(data)
			assert.NotContains(t, body, "original")
			assert.NotContains(t, body, "John Smith")
			assert.NotContains(t, body, "secretplace")
			assert.NotContains(t, body, "ORDER-1")
			assert.Contains(t, body, `"amount":"5.00"`)
			assert.Contains(t, body, `"message":"hi [REDACTED]"`)
		})
	}
}

func TestForOverlayPassesOtherItems(t *testing.T) {
	media := MediaItem{ID: "m1", VideoID: "abc"}
	assert.Equal(t, media, ForOverlay(media))
	assert.Nil(t, ForOverlay(nil))

	var missing *DonationItem
	assert.Nil(t, ForOverlay(missing))
}
