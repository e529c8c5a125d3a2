package salesforce

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/model"
)

// DefaultOrderObject is the custom object transport orders are written to.
const DefaultOrderObject = "Transport_Order__c"

// OrderRecord is the subset of a transport order record read back from
// Salesforce.
type OrderRecord struct {
	ID        string `json:"Id" salesforce:"Id"`
	VIN       string `json:"VIN__c" salesforce:"VIN__c"`
	LotNumber string `json:"Lot_Number__c" salesforce:"Lot_Number__c"`
	RunID     string `json:"Intake_Run_Id__c" salesforce:"Intake_Run_Id__c"`
}

// OrderFields maps a transport order onto the custom object's fields.
// Empty values are left out so an update never blanks a field.
func OrderFields(o model.TransportOrder) map[string]any {
	fields := map[string]any{
		"VIN__c":           o.VIN,
		"Source__c":        string(o.Source),
		"Intake_Run_Id__c": strconv.FormatInt(o.RunID, 10),
	}
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fields[key] = v
		}
	}
	set("Year__c", o.Year)
	set("Make__c", o.Make)
	set("Model__c", o.Model)
	set("Lot_Number__c", o.LotNumber)
	set("Buyer_Number__c", o.BuyerNumber)
	addressFields(set, "Pickup", o.Pickup)
	addressFields(set, "Delivery", o.Delivery)
	return fields
}

func addressFields(set func(key, v string), prefix string, a model.Address) {
	set(prefix+"_Name__c", a.Name)
	set(prefix+"_Street__c", a.Street)
	set(prefix+"_City__c", a.City)
	set(prefix+"_State__c", a.State)
	set(prefix+"_Zip__c", a.Zip)
	set(prefix+"_Phone__c", a.Phone)
}

// FindOrderByVIN returns the order record for vin, or nil if none exists.
func FindOrderByVIN(ctx context.Context, c Client, object, vin string) (*OrderRecord, error) {
	if object == "" {
		object = DefaultOrderObject
	}
	soql := fmt.Sprintf(
		"SELECT Id, VIN__c, Lot_Number__c, Intake_Run_Id__c FROM %s WHERE VIN__c = '%s' LIMIT 1",
		object, escapeSoql(vin),
	)

	var records []OrderRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find order by vin %s", vin))
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// UpsertOrder creates the order for o.VIN or updates the existing one. It
// returns the record id and whether the record was created.
func UpsertOrder(ctx context.Context, c Client, object string, o model.TransportOrder) (string, bool, error) {
	if strings.TrimSpace(o.VIN) == "" {
		return "", false, eris.New("sf: order has no VIN")
	}
	if object == "" {
		object = DefaultOrderObject
	}

	existing, err := FindOrderByVIN(ctx, c, object, o.VIN)
	if err != nil {
		return "", false, err
	}
	fields := OrderFields(o)
	if existing != nil {
		if err := c.UpdateOne(ctx, object, existing.ID, fields); err != nil {
			return "", false, err
		}
		return existing.ID, false, nil
	}

	id, err := c.InsertOne(ctx, object, fields)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
