package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseHealthStatus(t *testing.T) {
	cases := map[string]HealthStatus{
		"Good":            StatusGood,
		"good":            StatusGood,
		"Needs Attention": StatusNeedsAttention,
		"NeedsAttention":  StatusNeedsAttention,
		" URGENT ":        StatusUrgent,
	}
	for in, want := range cases {
		got, err := ParseHealthStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseHealthStatus("Fine")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMemory_SeedLookup(t *testing.T) {
	ctx := context.Background()
	r := SeedRoster()

	rec, ok, err := r.LookupByID(ctx, "S001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Rohan Sharma", rec.Name)
	assert.Equal(t, StatusGood, rec.HealthStatus)

	_, ok, err = r.LookupByID(ctx, "S999")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "S001", all[0].ID)
	assert.Equal(t, "S004", all[3].ID)

	all[0].Name = "mutated"
	again, _ := r.All(ctx)
	assert.Equal(t, "Rohan Sharma", again[0].Name)
}

func TestNewMemory_Rejects(t *testing.T) {
	_, err := NewMemory(StudentRecord{ID: "S1", Name: "A", HealthStatus: StatusGood}, StudentRecord{ID: "S1", Name: "B", HealthStatus: StatusGood})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = NewMemory(StudentRecord{ID: "", Name: "A", HealthStatus: StatusGood})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = NewMemory(StudentRecord{ID: "S1", Name: "A", HealthStatus: "Fine"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
students:
  - id: S010
    name: Kavya Rao
    status: needs attention
    details: Low iron.
  - id: S011
    name: Arjun Mehta
    status: Good
`)
	r, err := ParseYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"S010", "S011"}, r.IDs())

	rec, ok, _ := r.LookupByID(context.Background(), "S010")
	require.True(t, ok)
	assert.Equal(t, StatusNeedsAttention, rec.HealthStatus)

	_, err = ParseYAML([]byte("students:\n  - {id: S1, name: X, status: Sick}\n"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

type mapKV struct {
	mu   sync.Mutex
	data map[string]string
	fail error
}

func newMapKV() *mapKV { return &mapKV{data: map[string]string{}} }

func (m *mapKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *mapKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = value
	return nil
}

func (m *mapKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type countingLookup struct {
	Lookup
	byID int
	all  int
}

func (c *countingLookup) LookupByID(ctx context.Context, id string) (StudentRecord, bool, error) {
	c.byID++
	return c.Lookup.LookupByID(ctx, id)
}

func (c *countingLookup) All(ctx context.Context) ([]StudentRecord, error) {
	c.all++
	return c.Lookup.All(ctx)
}

func TestCached_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingLookup{Lookup: SeedRoster()}
	c := NewCached(backing, newMapKV(), time.Minute, nil)

	for i := 0; i < 3; i++ {
		rec, ok, err := c.LookupByID(ctx, "S002")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Priya Patel", rec.Name)
	}
	assert.Equal(t, 1, backing.byID)

	for i := 0; i < 2; i++ {
		_, ok, err := c.LookupByID(ctx, "S999")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, backing.byID, "misses are cached")

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	_, _ = c.All(ctx)
	assert.Equal(t, 1, backing.all)
}

func TestCached_FallsThroughOnCacheFailure(t *testing.T) {
	kv := newMapKV()
	kv.fail = errors.New("connection refused")
	backing := &countingLookup{Lookup: SeedRoster()}
	c := NewCached(backing, kv, time.Minute, nil)

	rec, ok, err := c.LookupByID(context.Background(), "S003")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusUrgent, rec.HealthStatus)
}

type memWriter struct {
	recs []StudentRecord
}

func (m *memWriter) Upsert(_ context.Context, rec StudentRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func TestImportSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"id", "name", "status", "details"},
		{"S101", "Meera Iyer", "Good", "Active"},
		{"S102", "", "Good", "missing name"},
		{"S103", "Dev Nair", "Sick", "bad status"},
		{"S104", "Isha Gupta", "Needs Attention", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	w := &memWriter{}
	res, err := ImportSpreadsheet(context.Background(), buf, w)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, res.Problems, 2)
	require.Len(t, w.recs, 2)
	assert.Equal(t, "S101", w.recs[0].ID)
	assert.Equal(t, StatusNeedsAttention, w.recs[1].HealthStatus)
}

func TestMemory_Upsert(t *testing.T) {
	ctx := context.Background()
	m := SeedRoster()

	require.NoError(t, m.Upsert(ctx, StudentRecord{ID: "S002", Name: "Priya Patel", HealthStatus: StatusGood}))
	require.NoError(t, m.Upsert(ctx, StudentRecord{ID: "S005", Name: "Kabir Das", HealthStatus: StatusUrgent}))
	assert.ErrorIs(t, m.Upsert(ctx, StudentRecord{ID: "S006", Name: "X", HealthStatus: "Sick"}), ErrInvalidRecord)

	rec, ok, err := m.LookupByID(ctx, "S002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusGood, rec.HealthStatus)

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "S005", all[4].ID, "new ids append")
}

func TestCached_UpsertInvalidates(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	c := NewCached(SeedRoster(), kv, time.Minute, nil)

	_, ok, err := c.LookupByID(ctx, "S007")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.All(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, StudentRecord{ID: "S007", Name: "Anaya Rao", HealthStatus: StatusGood}))
	rec, ok, err := c.LookupByID(ctx, "S007")
	require.NoError(t, err)
	require.True(t, ok, "cached miss dropped")
	assert.Equal(t, "Anaya Rao", rec.Name)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	ro := NewCached(readOnly{SeedRoster()}, kv, time.Minute, nil)
	assert.ErrorIs(t, ro.Upsert(ctx, rec), ErrReadOnly)
}

type readOnly struct{ Lookup }
