//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	runs := []model.Run{
		{ID: 1, Status: model.RunStatusPosted, FormatID: 1},
		{ID: 2, Status: model.RunStatusPosted, FormatID: 2},
		{ID: 3, Status: model.RunStatusExtracted, FormatID: 1, Error: "sink: timeout"},
		{ID: 4, Status: model.RunStatusFailed, Error: "unrecognized format"},
		{ID: 5, Status: model.RunStatusPending},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Posted)
	assert.Equal(t, 1, s.Extracted)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 2, s.WithErrors)
	assert.Equal(t, map[int]int{1: 2, 2: 1}, s.ByFormat)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Format 1:")
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.Run{{
		ID:         12,
		SourcePath: "/invoices/2024/a-very-long-copart-invoice-file-name.pdf",
		Status:     model.RunStatusPosted,
		FormatID:   1,
		UpdatedAt:  time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "2024-05-01 09:30")
	assert.Contains(t, out, "...")
}

func TestResolveFormat(t *testing.T) {
	catalog, err := formats.Default()
	require.NoError(t, err)

	p, err := resolveFormat(catalog, "copart")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)

	p, err = resolveFormat(catalog, " 3 ")
	require.NoError(t, err)
	assert.Equal(t, "MANHEIM", p.Code)

	_, err = resolveFormat(catalog, "9")
	assert.ErrorContains(t, err, "unknown format")
	_, err = resolveFormat(catalog, "carvana")
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats", "health"} {
		assert.True(t, names[name], "expected runs subcommand %q", name)
	}
	require.NotNil(t, runsHealthCmd.Flags().Lookup("alert"))
	assert.Equal(t, "50", runsListCmd.Flags().Lookup("limit").DefValue)
}
