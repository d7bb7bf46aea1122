package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmaster/internal/export"
	"github.com/sells-group/partmaster/internal/partstore"
)

func stageNames(stages []StageResult) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name
	}
	return out
}

func TestRefresh_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "SAP", "sap.csv", "Material No,Description,Cost\nP1,Bracket,5\nP2,,\n,orphan,9\n")
	writeSource(t, cfg, "Vault", "vault.csv", "part_number,description,cost,notes\nP1,Bracket steel,7,checked\nP2,Bolt,1,\n")
	st := openStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	res, err := p.Refresh(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 5, res.RawRows)
	assert.Equal(t, 4, res.Clean.Out)
	assert.Equal(t, 1, res.Clean.Dropped)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, []string{"migrate", "load", "clean", "merge", "upsert", "snapshot"}, stageNames(res.Stages))

	p1 := getPart(t, st, "P1")
	assert.Equal(t, "Bracket", p1["description"])
	assert.Equal(t, "5", p1["cost"])
	assert.Equal(t, "checked", p1["notes"])
	assert.Equal(t, "SAP,Vault", p1["source_system"])
	assert.Equal(t, "SAP:sap.csv,Vault:vault.csv", p1["sources"])

	p2 := getPart(t, st, "P2")
	assert.Equal(t, "Bolt", p2["description"])
	assert.Equal(t, "1", p2["cost"])

	data, err := os.ReadFile(res.Snapshot)
	require.NoError(t, err)
	snap, err := export.ReadXLSX(data)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "P1", snap[0].PartNumber().String())
}

func TestRefresh_RerunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,5\nP2,6\n")
	st := openStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)
	_, err = p.Refresh(context.Background())
	require.NoError(t, err)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRefresh_CaseVariants(t *testing.T) {
	for _, tc := range []struct {
		name     string
		fold     bool
		wantRows int64
	}{
		{name: "case sensitive", fold: false, wantRows: 2},
		{name: "fold case", fold: true, wantRows: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Merge.FoldCase = tc.fold
			writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,5\n")
			writeSource(t, cfg, "Vault", "vault.csv", "part_number,cost\np1,7\n")
			st := openStore(t, cfg)

			_, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
			require.NoError(t, err)

			n, err := st.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantRows, n)

			p1 := getPart(t, st, "P1")
			assert.Equal(t, "5", p1["cost"])
			if tc.fold {
				assert.Equal(t, "SAP:sap.csv,Vault:vault.csv", p1["sources"])
			} else {
				assert.Equal(t, "7", getPart(t, st, "p1")["cost"])
			}
		})
	}
}

func TestRefresh_SourcePriority(t *testing.T) {
	cfg := testConfig(t)
	cfg.Merge.SourcePriority = []string{"Vault", "SAP"}
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,5\n")
	writeSource(t, cfg, "Vault", "vault.csv", "part_number,cost\nP1,7\n")
	st := openStore(t, cfg)

	_, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.NoError(t, err)

	p1 := getPart(t, st, "P1")
	assert.Equal(t, "7", p1["cost"])
	assert.Equal(t, "Vault:vault.csv,SAP:sap.csv", p1["sources"])
}

func TestRefresh_BatchesCommitSeparately(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.BatchSize = 2
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,1\nP2,2\nP3,3\nP4,4\nP5,5\n")
	st := openStore(t, cfg)

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 5, res.Written)
	assert.Equal(t, []string{"cost", "source_file", "source_system", "sources"}, res.AddedColumns)
}

func TestRefresh_FileFailureDoesNotAbort(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,5\n")
	writeSource(t, cfg, "Vault", "broken.json", "{")
	st := openStore(t, cfg)

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "Vault", res.Failures[0].System)
	assert.Equal(t, 1, res.Written)
}

func TestRefresh_NoData(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.MissingDirs, 2)
	assert.Empty(t, res.Snapshot)

	cfg.Refresh.Strict = true
	_, err = newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoData))
}

func TestRefresh_AllRowsDroppedStrict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Refresh.Strict = true
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\n,5\nnan,6\n")
	st := openStore(t, cfg)

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 2, res.Clean.Dropped)
}

func TestRefresh_MigrateFailure(t *testing.T) {
	cfg := testConfig(t)
	st := &mockStore{}
	st.On("Migrate", mock.Anything).Return(eris.New("connection refused"))

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: migrate")
	require.Len(t, res.Stages, 1)
	assert.Equal(t, "connection refused", res.Stages[0].Error)
	st.AssertExpectations(t)
}

func TestRefresh_UpsertFailureStopsBeforeSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.BatchSize = 1
	writeSource(t, cfg, "SAP", "sap.csv", "part_number,cost\nP1,1\nP2,2\n")

	st := &mockStore{}
	st.On("Migrate", mock.Anything).Return(nil)
	st.On("Upsert", mock.Anything, mock.Anything).Return(partstore.UpsertResult{Attempted: 1, Written: 1}, nil).Once()
	st.On("Upsert", mock.Anything, mock.Anything).Return(partstore.UpsertResult{}, eris.New("disk full")).Once()

	res, err := newTestPipeline(t, cfg, st).Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: upsert")
	assert.Contains(t, err.Error(), "batch 2")
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 1, res.Written)
	assert.Empty(t, res.Snapshot)
	_, statErr := os.Stat(cfg.Output.Dir)
	assert.True(t, os.IsNotExist(statErr))
	st.AssertExpectations(t)
}
