package pharmacy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Transitions(t *testing.T) {
	legal := map[OrderStatus][]OrderStatus{
		OrderPending:    {OrderProcessing, OrderCancelled},
		OrderProcessing: {OrderCompleted, OrderCancelled},
	}
	all := []OrderStatus{OrderPending, OrderProcessing, OrderCompleted, OrderCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, OrderCompleted.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.False(t, OrderPending.Terminal())
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, OrderProcessing, st)

	_, err = ParseOrderStatus("Processing")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParsePaymentMethod(t *testing.T) {
	for _, m := range []string{"card", "cash", "upi", "insurance", "wallet"} {
		_, err := ParsePaymentMethod(m)
		assert.NoError(t, err, m)
	}
	_, err := ParsePaymentMethod("")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestPrescriptionExpiredAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Prescription{CreatedAt: created}
	threshold := 30 * 24 * time.Hour

	assert.False(t, p.ExpiredAt(created.Add(threshold), threshold))
	assert.True(t, p.ExpiredAt(created.Add(threshold+time.Second), threshold))
	assert.True(t, p.ExpiredAt(created.Add(31*24*time.Hour), threshold))
}

func TestOrderItemSubtotal(t *testing.T) {
	it := OrderItem{Price: decimal.RequireFromString("0.10"), Quantity: 3}
	assert.Equal(t, "0.30", it.Subtotal().StringFixed(2))
}
