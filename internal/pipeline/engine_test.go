package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/rawsource"
	"github.com/sells-group/campaignfin/internal/schema"
	"github.com/sells-group/campaignfin/internal/schema/schematest"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const janeID = "H4NY01001"

// rawDir lays out one cycle's raw files: a header and a data file per
// table that has records.
type rawDir struct {
	t    *testing.T
	root string
}

func newRawDir(t *testing.T) *rawDir {
	return &rawDir{t: t, root: t.TempDir()}
}

func (d *rawDir) write(cycle int, table string, records ...map[string]string) {
	d.t.Helper()
	d.writeRaw(cycle, table, schematest.Header(d.t, table), schematest.File(d.t, table, records...))
}

func (d *rawDir) writeRaw(cycle int, table, header, data string) {
	d.t.Helper()
	dir := filepath.Join(d.root, strconv.Itoa(cycle))
	require.NoError(d.t, os.MkdirAll(dir, 0o755))
	require.NoError(d.t, os.WriteFile(filepath.Join(d.root, filepath.FromSlash(rawsource.HeaderKey(cycle, table))), []byte(header), 0o644))
	require.NoError(d.t, os.WriteFile(filepath.Join(d.root, filepath.FromSlash(rawsource.DataKey(cycle, table))), []byte(data), 0o644))
}

func (d *rawDir) source() rawsource.Source {
	return rawsource.FS{Root: d.root}
}

var (
	janeCandidate = map[string]string{
		"CAND_ID":          janeID,
		"CAND_NAME":        "DOE, JANE Q.",
		"CAND_OFFICE":      "H",
		"CAND_OFFICE_ST":   "NY",
		"CAND_ELECTION_YR": "2024",
		"CAND_PCC":         "C001",
	}
	janeCommittee = map[string]string{
		"CMTE_ID":   "C001",
		"CMTE_NM":   "DOE FOR CONGRESS",
		"CMTE_DSGN": "P",
		"CMTE_TP":   "H",
		"CAND_ID":   janeID,
	}
	janeReceipt = map[string]string{
		"CMTE_ID":         "C001",
		"ENTITY_TP":       "IND",
		"NAME":            "SMITH, ANN",
		"STATE":           "NY",
		"TRANSACTION_DT":  "03152024",
		"TRANSACTION_AMT": "500.00",
		"TRAN_ID":         "T1",
		"SUB_ID":          "1001",
	}
)

func janeCycle(d *rawDir, cycle int, receipts ...map[string]string) {
	d.write(cycle, schema.TableCandidates, janeCandidate)
	d.write(cycle, schema.TableCommittees, janeCommittee)
	d.write(cycle, schema.TableIndividual, receipts...)
}

func TestEngine_EndToEnd(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt)

	store := warehouse.NewMemory()
	results, err := NewEngine(store, d.source()).Run(context.Background(), RunOpts{Cycles: []int{2024}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, warehouse.StatusComplete, results[0].Status)
	assert.Equal(t, int64(1), results[0].Stats.Candidates)
	assert.Equal(t, int64(1), results[0].Stats.Links)
	assert.ElementsMatch(t, []string{schema.TableLinkages, schema.TableCmteToCmte, schema.TableOperatingExp}, results[0].Stats.Missing)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	svc := lookup.NewService(lookup.WithReceipts(store))
	svc.Publish(snap)

	p, err := svc.Lookup(context.Background(), lookup.Query{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, janeID, p.Candidate.ID)
	require.Len(t, p.Summaries, 1)
	assert.Equal(t, "500", p.Summaries[0].TotalReceipts.String())
	assert.Equal(t, "500", p.Summaries[0].IndividualTotal.String())
	require.Len(t, p.Committees, 1)
	assert.Equal(t, model.RolePrincipal, p.Committees[0].Role)

	page, err := svc.Receipts(context.Background(), warehouse.ReceiptQuery{CandidateID: janeID})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "500", page.Rows[0].Amount.String())

	builds, err := store.ListBuilds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, warehouse.StatusComplete, builds[0].Status)
	assert.Equal(t, results[0].BuildID, builds[0].BuildID)
}

func candidateJSON(t *testing.T, store *warehouse.Memory, id string) string {
	t.Helper()
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	data, ok := snap.Candidate(id)
	require.True(t, ok)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return string(b)
}

func TestEngine_RebuildIsIdempotent(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt)
	store := warehouse.NewMemory()
	e := NewEngine(store, d.source())

	first := e.BuildCycle(context.Background(), 2024, 0)
	require.NoError(t, first.Err)
	before := candidateJSON(t, store, janeID)

	second := e.BuildCycle(context.Background(), 2024, 0)
	require.NoError(t, second.Err)
	assert.NotEqual(t, first.BuildID, second.BuildID)
	assert.Equal(t, before, candidateJSON(t, store, janeID))
}

func TestEngine_DuplicateLoadSuppressed(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt, janeReceipt)
	store := warehouse.NewMemory()

	res := NewEngine(store, d.source()).BuildCycle(context.Background(), 2024, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.Stats.Duplicates)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	data, ok := snap.Candidate(janeID)
	require.True(t, ok)
	require.Len(t, data.Summaries, 1)
	assert.Equal(t, "500", data.Summaries[0].TotalReceipts.String())
}

func TestEngine_QuarantineDoesNotAbort(t *testing.T) {
	d := newRawDir(t)
	d.write(2024, schema.TableCandidates, janeCandidate)
	d.write(2024, schema.TableCommittees, janeCommittee)
	good := schematest.File(t, schema.TableIndividual, janeReceipt)
	d.writeRaw(2024, schema.TableIndividual, schematest.Header(t, schema.TableIndividual), good+"C001|too|few\n")
	store := warehouse.NewMemory()

	res := NewEngine(store, d.source()).BuildCycle(context.Background(), 2024, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.Stats.Quarantined)
	assert.Equal(t, int64(1), res.Stats.ByReason[string(model.ReasonFieldCount)])

	q := store.Quarantine(res.BuildID)
	require.Len(t, q, 1)
	assert.Equal(t, schema.TableIndividual, q[0].Table)
	assert.Equal(t, model.ReasonFieldCount, q[0].Reason)
}

func TestEngine_SchemaMismatchKeepsPriorSnapshot(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt)
	store := warehouse.NewMemory()
	e := NewEngine(store, d.source())

	good := e.BuildCycle(context.Background(), 2024, 0)
	require.NoError(t, good.Err)

	d.writeRaw(2024, schema.TableCandidates, "CAND_ID,CAND_NAME,SOMETHING_NEW\n", "X|Y|Z\n")
	bad := e.BuildCycle(context.Background(), 2024, 0)
	require.Error(t, bad.Err)
	assert.ErrorIs(t, bad.Err, model.ErrSchemaMismatch)
	assert.Equal(t, warehouse.StatusFailed, bad.Status)

	pubs, err := store.Published(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, good.BuildID, pubs[0].BuildID)

	builds, err := store.ListBuilds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	statuses := []string{builds[0].Status, builds[1].Status}
	assert.ElementsMatch(t, []string{warehouse.StatusComplete, warehouse.StatusFailed}, statuses)

	// The lock was released: a fixed header builds again.
	d.write(2024, schema.TableCandidates, janeCandidate)
	assert.NoError(t, e.BuildCycle(context.Background(), 2024, 0).Err)
}

func TestEngine_MissingMasterFails(t *testing.T) {
	d := newRawDir(t)
	d.write(2024, schema.TableCandidates, janeCandidate)
	store := warehouse.NewMemory()

	res := NewEngine(store, d.source()).BuildCycle(context.Background(), 2024, 0)
	require.Error(t, res.Err)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot)
}

func TestEngine_BuildInProgress(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt)
	store := warehouse.NewMemory()

	held, err := store.BeginBuild(context.Background(), 2024, "other")
	require.NoError(t, err)
	defer held.Discard(context.Background()) //nolint:errcheck

	res := NewEngine(store, d.source()).BuildCycle(context.Background(), 2024, 0)
	assert.ErrorIs(t, res.Err, model.ErrBuildInProgress)

	builds, err := store.ListBuilds(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestEngine_RunsCyclesIndependently(t *testing.T) {
	d := newRawDir(t)
	janeCycle(d, 2024, janeReceipt)
	janeCycle(d, 2022)
	store := warehouse.NewMemory()

	results, err := NewEngine(store, d.source()).Run(context.Background(), RunOpts{Cycles: []int{2022, 2024, 2020}, Workers: 2})
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{2024, 2022, 2020}, []int{results[0].Cycle, results[1].Cycle, results[2].Cycle})
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Error(t, results[2].Err)

	pubs, err := store.Published(context.Background())
	require.NoError(t, err)
	assert.Len(t, pubs, 2)
}

func TestDefaultCycles(t *testing.T) {
	assert.Equal(t, []int{2024, 2022, 2020}, DefaultCycles(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []int{2026, 2024, 2022}, DefaultCycles(time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeCycles(t *testing.T) {
	got, err := normalizeCycles([]int{2020, 2024, 2020}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2020}, got)

	_, err = normalizeCycles([]int{2023}, time.Now())
	assert.Error(t, err)
}
