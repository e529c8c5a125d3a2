package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/model"
)

func TestBuildOrder(t *testing.T) {
	inv := &model.Invoice{
		Source:    model.SourceManheim,
		VIN:       " 1hgcm82633a004352 ",
		Year:      "2003",
		LotNumber: "W-100",
		Pickup:    model.Address{Name: "MANHEIM DALLAS", City: "Dallas", State: "TX"},
	}
	delivery := DeliveryAddress(config.DeliveryConfig{City: " Austin ", State: "tx"})

	o := BuildOrder(12, inv, delivery)
	assert.Equal(t, int64(12), o.RunID)
	assert.Equal(t, vin, o.VIN)
	assert.Equal(t, model.SourceManheim, o.Source)
	assert.Equal(t, "W-100", o.LotNumber)
	assert.Equal(t, inv.Pickup, o.Pickup)
	assert.Equal(t, model.Address{City: "Austin", State: "TX"}, o.Delivery)
}

func TestOrderValidator(t *testing.T) {
	v, err := NewOrderValidator()
	require.NoError(t, err)

	require.NoError(t, v.Validate(sampleOrder()))

	tests := []struct {
		name   string
		mutate func(o *model.TransportOrder)
	}{
		{"missing run", func(o *model.TransportOrder) { o.RunID = 0 }},
		{"short vin", func(o *model.TransportOrder) { o.VIN = "1HGCM826" }},
		{"vin with O", func(o *model.TransportOrder) { o.VIN = "1HGCM82633AO04352" }},
		{"unknown source", func(o *model.TransportOrder) { o.Source = model.SourceUnknown }},
		{"no pickup city", func(o *model.TransportOrder) { o.Pickup.City = "" }},
		{"bad delivery state", func(o *model.TransportOrder) { o.Delivery.State = "Texas" }},
		{"bad zip", func(o *model.TransportOrder) { o.Pickup.Zip = "7505" }},
		{"bad year", func(o *model.TransportOrder) { o.Year = "03" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sampleOrder()
			tt.mutate(o)
			err := v.Validate(o)
			assert.ErrorContains(t, err, "transport order invalid")
		})
	}
}
