package pipeline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/model"
)

//go:embed transport_order.schema.json
var orderSchema []byte

const orderSchemaURL = "transport_order.schema.json"

// OrderValidator checks transport orders against the embedded JSON schema.
type OrderValidator struct {
	schema *jsonschema.Schema
}

// NewOrderValidator compiles the transport order schema.
func NewOrderValidator() (*OrderValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(orderSchemaURL, bytes.NewReader(orderSchema)); err != nil {
		return nil, eris.Wrap(err, "pipeline: add order schema")
	}
	schema, err := compiler.Compile(orderSchemaURL)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: compile order schema")
	}
	return &OrderValidator{schema: schema}, nil
}

// Validate reports the first schema violations of order.
func (v *OrderValidator) Validate(order *model.TransportOrder) error {
	b, err := json.Marshal(order)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal order")
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return eris.Wrap(err, "pipeline: unmarshal order")
	}
	if err := v.schema.Validate(doc); err != nil {
		return eris.Wrap(err, "pipeline: transport order invalid")
	}
	return nil
}

// DeliveryAddress converts the configured destination.
func DeliveryAddress(cfg config.DeliveryConfig) model.Address {
	return model.Address{
		Name:   strings.TrimSpace(cfg.Name),
		Street: strings.TrimSpace(cfg.Street),
		City:   strings.TrimSpace(cfg.City),
		State:  strings.ToUpper(strings.TrimSpace(cfg.State)),
		Zip:    strings.TrimSpace(cfg.Zip),
		Phone:  strings.TrimSpace(cfg.Phone),
	}
}

// BuildOrder assembles the transport order for an invoice. Delivery always
// comes from configuration, never from the document.
func BuildOrder(runID int64, inv *model.Invoice, delivery model.Address) *model.TransportOrder {
	return &model.TransportOrder{
		RunID:       runID,
		Source:      inv.Source,
		VIN:         strings.ToUpper(strings.TrimSpace(inv.VIN)),
		Year:        inv.Year,
		Make:        inv.Make,
		Model:       inv.Model,
		LotNumber:   inv.LotNumber,
		BuyerNumber: inv.BuyerNumber,
		Pickup:      inv.Pickup,
		Delivery:    delivery,
	}
}
