package model

// LocationType is the transport role of an address.
type LocationType string

const (
	LocationPickup   LocationType = "pickup"
	LocationDelivery LocationType = "delivery"
	LocationUnknown  LocationType = "unknown"
)

// Confidence is a coarse confidence bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// LocationSource records which signal decided a classification.
type LocationSource string

const (
	LocationSourceKeyword LocationSource = "keyword"
	LocationSourceSpatial LocationSource = "spatial"
	LocationSourceProfile LocationSource = "profile"
	LocationSourceDefault LocationSource = "default"
)

// ClassifiedLocation is the pickup/delivery verdict for a piece of address text.
type ClassifiedLocation struct {
	LocationType    LocationType   `json:"location_type"`
	Confidence      Confidence     `json:"confidence"`
	AddressText     string         `json:"address_text"`
	MatchedKeywords []string       `json:"matched_keywords"`
	MatchedRule     string         `json:"matched_rule,omitempty"`
	Source          LocationSource `json:"source"`
}
