// Package location decides whether address text found in a document is a
// pickup or a delivery location. Delivery addresses are never taken from a
// document; the classifier only flags them so callers can discard them.
package location

import (
	"regexp"
	"strings"

	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
)

// Rule names recorded in ClassifiedLocation.MatchedRule.
const (
	RuleDeliveryKeyword     = "delivery_keyword"
	RuleWarehouseKeyword    = "warehouse_keyword"
	RuleStrongPickupKeyword = "strong_pickup_keyword"
	RuleWeakPickupKeyword   = "weak_pickup_keyword"
	RuleSpatialZone         = "spatial_zone"
	RuleDefaultPickup       = "default_pickup"
)

type keyword struct {
	phrase string
	label  string
	re     *regexp.Regexp
}

type profileHints struct {
	labels []keyword
	zone   string
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	delivery     []keyword
	warehouse    []keyword
	strongPickup []keyword
	weakPickup   []keyword
	profiles     map[string]profileHints
}

// NewClassifier builds a classifier from the catalog's keyword tables and
// per-format pickup labels.
func NewClassifier(c *formats.Catalog) *Classifier {
	cl := &Classifier{
		delivery:     compileAll(c.Locations.Delivery),
		warehouse:    compileAll(c.Locations.Warehouse),
		strongPickup: compileAll(c.Locations.StrongPickup),
		weakPickup:   compileAll(c.Locations.WeakPickup),
		profiles:     make(map[string]profileHints, len(c.Formats)),
	}
	for _, p := range c.Formats {
		cl.profiles[p.Code] = profileHints{
			labels: compileAll(p.PickupLabels),
			zone:   normalizeZone(p.PickupZone),
		}
	}
	return cl
}

func compileAll(phrases []string) []keyword {
	out := make([]keyword, 0, len(phrases))
	for _, p := range phrases {
		if re := formats.PhraseRegexp(p); re != nil {
			out = append(out, keyword{phrase: strings.ToLower(strings.TrimSpace(p)), label: strings.TrimSpace(p), re: re})
		}
	}
	return out
}

func matchAll(kws []keyword, text string) []string {
	var hits []string
	for _, k := range kws {
		if k.re.MatchString(text) {
			hits = append(hits, k.phrase)
		}
	}
	return hits
}

func normalizeZone(z string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(z), "-", "_"))
}

// Classify labels address text as pickup, delivery or unknown. context is the
// surrounding document text (typically the label above the address),
// formatHint a format code and positionHint the page zone the address was
// found in. All but address may be empty.
func (c *Classifier) Classify(address, context, formatHint, positionHint string) model.ClassifiedLocation {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return model.ClassifiedLocation{
			LocationType:    model.LocationUnknown,
			Confidence:      model.ConfidenceLow,
			AddressText:     address,
			MatchedKeywords: []string{},
			Source:          model.LocationSourceDefault,
		}
	}

	combined := strings.TrimSpace(context + " " + addr)
	result := func(lt model.LocationType, conf model.Confidence, rule string, src model.LocationSource, kws []string) model.ClassifiedLocation {
		if kws == nil {
			kws = []string{}
		}
		return model.ClassifiedLocation{
			LocationType:    lt,
			Confidence:      conf,
			AddressText:     addr,
			MatchedKeywords: kws,
			MatchedRule:     rule,
			Source:          src,
		}
	}

	if hits := matchAll(c.delivery, combined); len(hits) > 0 {
		return result(model.LocationDelivery, model.ConfidenceHigh, RuleDeliveryKeyword, model.LocationSourceKeyword, hits)
	}
	if hits := matchAll(c.warehouse, addr); len(hits) > 0 {
		return result(model.LocationDelivery, model.ConfidenceHigh, RuleWarehouseKeyword, model.LocationSourceKeyword, hits)
	}
	if hits := matchAll(c.strongPickup, combined); len(hits) > 0 {
		return result(model.LocationPickup, model.ConfidenceHigh, RuleStrongPickupKeyword, model.LocationSourceKeyword, hits)
	}
	if hits := matchAll(c.weakPickup, combined); len(hits) > 0 {
		return result(model.LocationPickup, model.ConfidenceMedium, RuleWeakPickupKeyword, model.LocationSourceKeyword, hits)
	}

	if hints, ok := c.profiles[strings.ToUpper(strings.TrimSpace(formatHint))]; ok {
		for _, l := range hints.labels {
			if l.re.MatchString(context) {
				return result(model.LocationPickup, model.ConfidenceHigh, l.label, model.LocationSourceProfile, []string{l.phrase})
			}
		}
		if hints.zone != "" && normalizeZone(positionHint) == hints.zone {
			return result(model.LocationPickup, model.ConfidenceMedium, RuleSpatialZone, model.LocationSourceSpatial, nil)
		}
	}

	return result(model.LocationPickup, model.ConfidenceLow, RuleDefaultPickup, model.LocationSourceDefault, nil)
}

// IsDefinitelyPickup reports a high-confidence pickup verdict.
func IsDefinitelyPickup(loc model.ClassifiedLocation) bool {
	return loc.LocationType == model.LocationPickup && loc.Confidence == model.ConfidenceHigh
}

// IsLikelyDelivery reports any delivery verdict.
func IsLikelyDelivery(loc model.ClassifiedLocation) bool {
	return loc.LocationType == model.LocationDelivery
}

// ShouldExtractFromDocument is the gate every caller passes before persisting
// an address read from a document. Only pickup addresses qualify.
func ShouldExtractFromDocument(lt model.LocationType) bool {
	return lt == model.LocationPickup
}
