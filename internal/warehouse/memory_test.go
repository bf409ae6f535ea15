package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/model"
)

func TestMemory_LockPublishLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Load(ctx)
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot)

	b, err := m.BeginBuild(ctx, 2024, "b1")
	require.NoError(t, err)

	_, err = m.BeginBuild(ctx, 2024, "b2")
	assert.ErrorIs(t, err, model.ErrBuildInProgress)

	other, err := m.BeginBuild(ctx, 2022, "b3")
	require.NoError(t, err, "other cycles build in parallel")
	require.NoError(t, other.Discard(ctx))

	require.NoError(t, b.Stage(ctx, sampleCycle(), nil))
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot, "staged rows are invisible")

	require.NoError(t, b.Publish(ctx))
	snap, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024:b1", snap.Version)

	pubs, err := m.Published(ctx)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "b1", pubs[0].BuildID)

	again, err := m.BeginBuild(ctx, 2024, "b4")
	require.NoError(t, err, "lock released on publish")
	require.NoError(t, again.Discard(ctx))

	snap, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024:b1", snap.Version, "discarded build leaves prior snapshot")
}

func TestMemory_BuildLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id1, err := m.StartBuild(ctx, "b1", 2024)
	require.NoError(t, err)
	id2, err := m.StartBuild(ctx, "b2", 2022)
	require.NoError(t, err)

	require.NoError(t, m.CompleteBuild(ctx, id1, BuildStats{Quarantined: 2}))
	require.NoError(t, m.FailBuild(ctx, id2, "schema mismatch", BuildStats{}))
	assert.Error(t, m.CompleteBuild(ctx, 99, BuildStats{}))

	entries, err := m.ListBuilds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "schema mismatch", entries[0].Error)
	assert.Equal(t, StatusComplete, entries[1].Status)
	assert.Equal(t, int64(2), entries[1].Stats.Quarantined)
	assert.NotNil(t, entries[1].CompletedAt)

	entries, err = m.ListBuilds(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemory_Receipts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rcpt := func(cand string, cycle int, sub int64, date time.Time) model.ItemizedReceipt {
		return model.ItemizedReceipt{CandidateID: cand, Transaction: model.Transaction{
			Kind: model.KindReceipt, CommitteeID: "K1", SubID: sub, Cycle: cycle, Date: date,
			Hash: cand + string(rune('a'+sub)),
		}}
	}
	day := func(y, mo, d int) time.Time { return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC) }

	publish := func(cycle int, id string, rs ...model.ItemizedReceipt) {
		b, err := m.BeginBuild(ctx, cycle, id)
		require.NoError(t, err)
		data := sampleCycle()
		data.Receipts = rs
		require.NoError(t, b.Stage(ctx, data, nil))
		require.NoError(t, b.Publish(ctx))
	}
	publish(2024, "b24",
		rcpt("C001", 2024, 1, day(2024, 1, 5)),
		rcpt("C001", 2024, 2, time.Time{}),
		rcpt("C001", 2024, 3, day(2024, 6, 1)),
		rcpt("C002", 2024, 4, day(2024, 7, 1)),
	)
	publish(2022, "b22", rcpt("C001", 2022, 5, day(2022, 2, 1)))

	all, err := m.Receipts(ctx, ReceiptQuery{CandidateID: "C001"})
	require.NoError(t, err)
	var subs []int64
	for _, r := range all {
		subs = append(subs, r.SubID)
	}
	assert.Equal(t, []int64{3, 1, 5, 2}, subs, "newest first, undated last")

	page, err := m.Receipts(ctx, ReceiptQuery{CandidateID: "C001", Cycles: []int{2024}, Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].SubID)

	past, err := m.Receipts(ctx, ReceiptQuery{CandidateID: "C001", Limit: 2, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = m.Receipts(ctx, ReceiptQuery{CandidateID: "C001", Limit: -1})
	assert.Error(t, err)
}
