package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/config"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/pipeline"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

func TestParseCycles(t *testing.T) {
	withConfig(t, &config.Config{Pipeline: config.PipelineConfig{Cycles: []int{2020}}})

	cycles, err := parseCycles("")
	require.NoError(t, err)
	assert.Equal(t, []int{2020}, cycles)

	cycles, err = parseCycles("2024, 2022,")
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2022}, cycles)

	_, err = parseCycles("2024,next")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next")
}

func TestFormatCycleResults(t *testing.T) {
	results := []pipeline.CycleResult{
		{
			Cycle:   2024,
			BuildID: "b1",
			Status:  warehouse.StatusComplete,
			Elapsed: 1500 * time.Millisecond,
			Stats: warehouse.BuildStats{
				Candidates: 10, Committees: 12, Links: 9, Quarantined: 2, Duplicates: 1,
				Missing: []string{"itoth", "oppexp"},
			},
		},
		{Cycle: 2022, BuildID: "b2", Status: warehouse.StatusFailed, Err: errors.New("schema mismatch")},
	}

	var buf bytes.Buffer
	formatCycleResults(&buf, results)

	output := buf.String()
	assert.Contains(t, output, "MISSING")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "itoth,oppexp")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "schema mismatch")
}

type fakeQuarantine map[string][]model.Quarantine

func (f fakeQuarantine) Quarantine(buildID string) []model.Quarantine { return f[buildID] }

func TestFormatQuarantine(t *testing.T) {
	src := fakeQuarantine{
		"b1": {
			{Table: "itcont", Line: 3, Reason: model.ReasonFieldCount, Detail: "got 3 fields"},
			{Table: "itcont", Line: 9, Reason: model.ReasonTypeCoercion, Detail: "TRANSACTION_AMT: abc"},
			{Table: "cn", Line: 2, Reason: model.ReasonCycle, Detail: "no cycle"},
		},
		"b2": {{Table: "cm", Line: 1, Reason: model.ReasonEncoding}},
	}
	results := []pipeline.CycleResult{
		{Cycle: 2024, BuildID: "b1", Status: warehouse.StatusComplete},
		{Cycle: 2022, BuildID: "b2", Status: warehouse.StatusFailed},
	}

	var buf bytes.Buffer
	formatQuarantine(&buf, src, results, 2)

	output := buf.String()
	assert.Contains(t, output, "field_count_mismatch")
	assert.Contains(t, output, "type_coercion_failure")
	assert.NotContains(t, output, "cycle_derivation_failure")
	assert.Contains(t, output, "(1 more)")
	assert.NotContains(t, output, "encoding_error", "failed builds are never published")

	buf.Reset()
	formatQuarantine(&buf, src, results[1:], 2)
	assert.Empty(t, buf.String())
}
