package metricsdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
	"github.com/Altius/stampipes/programs/decode_index/internal/metrics"
)

func summary(t *testing.T, perfect int) metrics.Summary {
	t.Helper()
	tbl, err := barcode.FromSequences([]string{"ACGT", "TTTT"})
	require.NoError(t, err)
	a := metrics.NewAccumulator(tbl)
	for i := 0; i < perfect; i++ {
		require.NoError(t, a.Update(1, match.Result{Matched: true, Ordinal: 1, Outcome: match.Matched}, true))
	}
	require.NoError(t, a.Update(0, match.Result{Outcome: match.MismatchRejected, Mismatches: 3}, true))
	return a.Finalize()
}

func TestSaveAndLoadRun(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "runs", "history.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.SaveRun(RunInfo{
		FastQ1:     "lane1_R1.fastq.gz",
		Output:     "out.sam",
		State:      "done",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}, summary(t, 3))
	require.NoError(t, err)
	require.Len(t, id, 26)

	run, err := store.Run(id)
	require.NoError(t, err)
	require.Equal(t, "lane1_R1.fastq.gz", run.FastQ1)
	require.Equal(t, int64(4), run.Reads)
	require.Equal(t, int64(3), run.Matched)
	require.InDelta(t, 0.75, run.PctMatches, 1e-9)

	// Two barcodes, the unmatched row and the global row.
	require.Len(t, run.Barcodes, 4)
	require.Equal(t, "ACGT", run.Barcodes[0].Barcode)
	require.Equal(t, int64(3), run.Barcodes[0].PerfectMatches)
	require.Equal(t, "0", run.Barcodes[2].Name)
	require.Equal(t, int64(1), run.Barcodes[2].MismatchRejections)
	require.Equal(t, metrics.GlobalName, run.Barcodes[3].Name)
}

func TestRunsNewestFirst(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.SaveRun(RunInfo{State: "done", StartedAt: base.Add(time.Duration(i) * time.Hour)}, summary(t, i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := store.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, ids[2], runs[0].ID)
	require.Equal(t, ids[1], runs[1].ID)
}

func TestNilStore(t *testing.T) {
	var s *Store
	_, err := s.SaveRun(RunInfo{}, metrics.Summary{})
	require.Error(t, err)
	require.NoError(t, s.Close())
}
