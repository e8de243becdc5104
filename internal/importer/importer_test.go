package importer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodata-tw/doorplate/internal/model"
	"github.com/geodata-tw/doorplate/internal/store"
)

const importCSV = `區,村里,鄰,街、路段,地區,巷,弄,號,橫座標,縱座標
東區,光明里,1,東門路一段,,,,1號,167816,2544901
東區,光明里,1,東門路一段,,,,3號,167830,2544910
東區,光明里,2,崇學路,,,,10號,168901,2542500
東區,光明里,,崇學路,,,,12號,168905,2542510
東區,光明里,abc,崇學路,,,,14號,168910,2542520
`

func newImporterStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestImporterRun(t *testing.T) {
	s := newImporterStore(t)
	ctx := context.Background()

	sum, err := New(s).Run(ctx, strings.NewReader(importCSV), Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 5, sum.RowsRead)
	assert.Equal(t, 3, sum.RowsAccepted)
	assert.Equal(t, 2, sum.RowsRejected)
	assert.Equal(t, 1, sum.Rejects[RejectMissingField])
	assert.Equal(t, 1, sum.Rejects[RejectMalformedNumber])
	assert.Equal(t, int64(3), sum.RowsWritten)
	assert.Equal(t, 1, sum.ChunksCommitted)
	assert.Zero(t, sum.ChunksFailed)
	assert.False(t, sum.Cleared)
	assert.Positive(t, sum.Duration)

	count, err := s.AddressCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// The statistics cache was rebuilt as part of the run.
	st, err := s.GetStats(ctx, "東區", "", 0)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.AddressCount)
	assert.Equal(t, 1, st.VillageCount)
	assert.Equal(t, 2, st.NeighborhoodCount)
}

func TestImporterRunChunked(t *testing.T) {
	s := newImporterStore(t)

	sum, err := New(s).Run(context.Background(), strings.NewReader(importCSV), Options{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.RowsAccepted)
	assert.Equal(t, 2, sum.ChunksCommitted)
	assert.Equal(t, int64(3), sum.RowsWritten)
}

func TestImporterRunIsIdempotent(t *testing.T) {
	s := newImporterStore(t)
	ctx := context.Background()
	imp := New(s)

	_, err := imp.Run(ctx, strings.NewReader(importCSV), Options{})
	require.NoError(t, err)
	_, err = imp.Run(ctx, strings.NewReader(importCSV), Options{})
	require.NoError(t, err)

	count, err := s.AddressCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestImporterRunClear(t *testing.T) {
	s := newImporterStore(t)
	ctx := context.Background()
	imp := New(s)

	_, err := imp.Run(ctx, strings.NewReader(importCSV), Options{})
	require.NoError(t, err)

	// A clearing run with a smaller file leaves only its own rows.
	smaller := `區,村里,鄰,街、路段,地區,巷,弄,號,橫座標,縱座標
北區,大港里,5,西門路四段,,,,7號,167500,2547000
`
	sum, err := imp.Run(ctx, strings.NewReader(smaller), Options{Clear: true})
	require.NoError(t, err)
	assert.True(t, sum.Cleared)

	count, err := s.AddressCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	districts, err := s.ListDistricts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"北區"}, districts)
}

func TestImporterRunBadHeader(t *testing.T) {
	s := newImporterStore(t)

	_, err := New(s).Run(context.Background(), strings.NewReader("a,b,c\n1,2,3\n"), Options{})
	require.Error(t, err)
}

// chunkFailStore fails a single chosen upsert call and lets every
// other chunk through to the wrapped store.
type chunkFailStore struct {
	store.Store
	failCall int
	calls    int
}

func (s *chunkFailStore) UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error) {
	s.calls++
	if s.calls == s.failCall {
		return 0, assert.AnError
	}
	return s.Store.UpsertAddresses(ctx, addrs)
}

func TestImporterRunFailedChunkDoesNotAbortRun(t *testing.T) {
	s := &chunkFailStore{Store: newImporterStore(t), failCall: 2}
	ctx := context.Background()

	csv := `區,村里,鄰,街、路段,地區,巷,弄,號,橫座標,縱座標
東區,光明里,1,東門路一段,,,,1號,167816,2544901
東區,光明里,1,東門路一段,,,,3號,167830,2544910
東區,光明里,2,崇學路,,,,10號,168901,2542500
東區,光明里,2,崇學路,,,,12號,168905,2542510
東區,光明里,3,崇學路,,,,14號,168910,2542520
東區,光明里,3,崇學路,,,,16號,168915,2542530
`
	sum, err := New(s).Run(ctx, strings.NewReader(csv), Options{ChunkSize: 2})
	require.NoError(t, err)

	// The failed chunk is skipped and counted; the other chunks commit.
	assert.Equal(t, 6, sum.RowsAccepted)
	assert.Equal(t, 2, sum.ChunksCommitted)
	assert.Equal(t, 1, sum.ChunksFailed)
	assert.Equal(t, int64(4), sum.RowsWritten)

	count, err := s.AddressCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

// rebuildFailStore forces the statistics rebuild to fail after chunks
// were committed.
type rebuildFailStore struct {
	store.Store
}

func (s *rebuildFailStore) RebuildStats(ctx context.Context) error {
	return assert.AnError
}

func TestImporterRunRebuildFailureIsFatal(t *testing.T) {
	s := &rebuildFailStore{Store: newImporterStore(t)}

	_, err := New(s).Run(context.Background(), strings.NewReader(importCSV), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild statistics cache")
}
