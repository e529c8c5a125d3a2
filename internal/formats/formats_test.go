package formats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/model"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	require.Len(t, c.Formats, 3)
	for id, code := range map[int]string{1: "COPART", 2: "IAA", 3: "MANHEIM"} {
		p, ok := c.ByID(id)
		require.True(t, ok)
		assert.Equal(t, code, p.Code)

		byCode, ok := c.ByCode(code)
		require.True(t, ok)
		assert.Same(t, p, byCode)
	}

	p, ok := c.ByCode(" copart ")
	require.True(t, ok)
	assert.Equal(t, model.SourceCopart, p.Source())
	assert.Contains(t, p.PickupLabels, "PHYSICAL ADDRESS OF LOT")

	assert.NotContains(t, c.Locations.Delivery, "distribution")
	assert.Contains(t, c.Locations.Warehouse, "distribution")

	_, ok = c.ByCode("ADESA")
	assert.False(t, ok)
}

func TestProfileScore(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	copart, _ := c.ByCode("COPART")
	iaa, _ := c.ByCode("IAA")

	text := "COPART Sales Receipt\nMember # 55123\nLot # 4412399\nPHYSICAL ADDRESS OF LOT\n"
	score, matched := copart.Score(text)
	assert.InDelta(t, 1.0, score, 0.0001)
	assert.Len(t, matched, 4)
	assert.Equal(t, `\bcopart\b`, matched[0])

	score, matched = iaa.Score(text)
	assert.Zero(t, score)
	assert.Empty(t, matched)

	score, _ = copart.Score("lot # 12")
	assert.InDelta(t, 0.1, score, 0.0001)
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	data := `
formats:
  - id: 7
    code: adesa
    name: ADESA
    signatures:
      - pattern: '\badesa\b'
        weight: 0.9
locations:
  delivery: [deliver]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	p, ok := c.ByCode("ADESA")
	require.True(t, ok)
	assert.Equal(t, 7, p.ID)

	c, err = Load("")
	require.NoError(t, err)
	assert.Len(t, c.Formats, 3)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty", "formats: []", "no formats"},
		{"bad yaml", "formats: [", "parse catalog"},
		{"no code", "formats:\n  - id: 1\n    signatures: [{pattern: x, weight: 1}]", "has no code"},
		{"dup code", "formats:\n  - {id: 1, code: A, signatures: [{pattern: x, weight: 1}]}\n  - {id: 2, code: a, signatures: [{pattern: y, weight: 1}]}", "duplicate format code"},
		{"dup id", "formats:\n  - {id: 1, code: A, signatures: [{pattern: x, weight: 1}]}\n  - {id: 1, code: B, signatures: [{pattern: y, weight: 1}]}", "duplicate format id"},
		{"no signatures", "formats:\n  - {id: 1, code: A}", "no signatures"},
		{"zero weight", "formats:\n  - {id: 1, code: A, signatures: [{pattern: x}]}", "positive weight"},
		{"bad regex", "formats:\n  - {id: 1, code: A, signatures: [{pattern: '(', weight: 1}]}", "signature"},
		{"bad rule type", "formats:\n  - {id: 1, code: A, signatures: [{pattern: x, weight: 1}], fields: [{key: vin, rule_type: guess}]}", "unknown rule type"},
		{"label rule without labels", "formats:\n  - {id: 1, code: A, signatures: [{pattern: x, weight: 1}], fields: [{key: vin, rule_type: label_inline}]}", "has no labels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPhraseRegexp(t *testing.T) {
	re := PhraseRegexp("LOT #")
	assert.True(t, re.MatchString("Lot  # 123"))
	assert.False(t, re.MatchString("PILOT # 1"))

	re = PhraseRegexp("ship to")
	assert.True(t, re.MatchString("SHIP TO: Dallas"))
	assert.False(t, re.MatchString("shipto"))

	re = PhraseRegexp("deliver")
	assert.False(t, re.MatchString("delivery"))

	assert.Nil(t, PhraseRegexp("   "))
}

func TestProfileField(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	p, _ := c.ByCode("IAA")

	f, ok := p.Field("pickup_address")
	require.True(t, ok)
	assert.Equal(t, model.RuleTypeLabelBelow, f.RuleType)

	_, ok = p.Field("odometer")
	assert.False(t, ok)
}
