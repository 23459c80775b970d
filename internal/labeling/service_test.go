package labeling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/metrics"
	"github.com/lewtec/marcador/internal/repository"
	"github.com/lewtec/marcador/internal/sequence"
	"github.com/lewtec/marcador/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	service  *Service
	records  *repository.RecordRepository
	catalog  *repository.CatalogRepository
	counters *repository.CounterRepository
	stats    *stats.Cache
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := repository.SetupTestDB(t)
	counters := repository.NewCounterRepository(db)
	records := repository.NewRecordRepository(db)
	catalog := repository.NewCatalogRepository(db, counters)
	cache := stats.New(stats.Options{TTL: time.Minute})
	alloc := sequence.New(counters, records, sequence.Options{})
	return &fixture{
		service: NewService(records, alloc, Options{
			Datasets: catalog,
			Stats:    cache,
		}),
		records:  records,
		catalog:  catalog,
		counters: counters,
		stats:    cache,
	}
}

func submission(item int64, worker string, label domain.Label) Submission {
	return Submission{DatasetID: 1, ItemID: item, WorkerID: worker, Label: label}
}

func TestService_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("same triple keeps its record id", func(t *testing.T) {
		f := setup(t)
		first, err := f.service.Upsert(ctx, submission(102, "doc1", domain.SingleLabel(4)))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCreated, first.Status)
		assert.Equal(t, int64(1), first.Record.RecordID)

		sub := submission(102, "doc1", domain.SingleLabel(7))
		sub.Note = "changed my mind"
		second, err := f.service.Upsert(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUpdated, second.Status)
		assert.Equal(t, first.Record.RecordID, second.Record.RecordID)

		stored, err := f.records.GetByID(ctx, first.Record.RecordID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.True(t, stored.Label.Equal(domain.SingleLabel(7)))
		assert.Equal(t, "changed my mind", stored.Note)
	})

	t.Run("distinct triples get distinct ids", func(t *testing.T) {
		f := setup(t)
		a, err := f.service.Upsert(ctx, submission(1, "a", domain.SingleLabel(1)))
		require.NoError(t, err)
		b, err := f.service.Upsert(ctx, submission(1, "b", domain.SingleLabel(1)))
		require.NoError(t, err)
		c, err := f.service.Upsert(ctx, submission(2, "a", domain.SingleLabel(1)))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, []int64{a.Record.RecordID, b.Record.RecordID, c.Record.RecordID})
	})

	t.Run("ids continue from the bootstrapped counter", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.counters.Set(ctx, domain.CounterAnnotationRecord, 500))
		res, err := f.service.Upsert(ctx, submission(1, "a", domain.SingleLabel(1)))
		require.NoError(t, err)
		assert.Equal(t, int64(501), res.Record.RecordID)
	})

	t.Run("multi label round trips in order", func(t *testing.T) {
		f := setup(t)
		ds, err := f.catalog.CreateDataset(ctx, "tags", "", true)
		require.NoError(t, err)

		res, err := f.service.Upsert(ctx, Submission{DatasetID: ds.ID, ItemID: 9, WorkerID: "a", Label: domain.MultiLabel(2, 5, 7)})
		require.NoError(t, err)

		stored, err := f.records.GetByID(ctx, res.Record.RecordID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.True(t, stored.Label.IsMulti())
		assert.Equal(t, []int64{2, 5, 7}, stored.Label.IDs())
	})

	t.Run("concurrent submissions for one triple create one record", func(t *testing.T) {
		f := setup(t)
		const callers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ids      = map[int64]struct{}{}
			statuses = map[domain.UpsertStatus]int{}
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := f.service.Upsert(ctx, submission(42, "racer", domain.SingleLabel(int64(i+1))))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[res.Record.RecordID] = struct{}{}
				statuses[res.Status]++
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Len(t, ids, 1)
		assert.Equal(t, 1, statuses[domain.StatusCreated])
		assert.Equal(t, callers-1, statuses[domain.StatusUpdated])

		all, err := f.records.ListByDataset(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	single, err := f.catalog.CreateDataset(ctx, "single", "", false)
	require.NoError(t, err)

	cases := []struct {
		name string
		sub  Submission
	}{
		{"empty worker", submission(1, "", domain.SingleLabel(1))},
		{"zero label", submission(1, "a", domain.Label{})},
		{"empty multi label", submission(1, "a", domain.MultiLabel())},
		{"repeated multi label", submission(1, "a", domain.MultiLabel(3, 3))},
		{"non positive dataset", Submission{DatasetID: 0, ItemID: 1, WorkerID: "a", Label: domain.SingleLabel(1)}},
		{"non positive item", Submission{DatasetID: 1, ItemID: -4, WorkerID: "a", Label: domain.SingleLabel(1)}},
		{"multi label on single select dataset", Submission{DatasetID: single.ID, ItemID: 1, WorkerID: "a", Label: domain.MultiLabel(1, 2)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Upsert(ctx, tc.sub)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}

	all, err := f.records.ListByDataset(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected submissions write nothing")

	current, err := f.counters.Current(ctx, domain.CounterAnnotationRecord)
	require.NoError(t, err)
	assert.Zero(t, current, "rejected submissions allocate nothing")

	t.Run("unknown datasets accept multi labels", func(t *testing.T) {
		_, err := f.service.Upsert(ctx, Submission{DatasetID: 999, ItemID: 1, WorkerID: "a", Label: domain.MultiLabel(1, 2)})
		assert.NoError(t, err)
	})
}

func TestService_UpdateFields(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	t.Run("missing record is not found and writes nothing", func(t *testing.T) {
		res, err := f.service.UpdateFields(ctx, submission(5, "a", domain.SingleLabel(1)))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusNotFound, res.Status)
		assert.Nil(t, res.Record)

		rec, err := f.records.FindByKey(ctx, domain.RecordKey{DatasetID: 1, ItemID: 5, WorkerID: "a"})
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("existing record is updated in place", func(t *testing.T) {
		created, err := f.service.Upsert(ctx, submission(6, "a", domain.SingleLabel(1)))
		require.NoError(t, err)

		res, err := f.service.UpdateFields(ctx, submission(6, "a", domain.SingleLabel(2)))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUpdated, res.Status)
		assert.Equal(t, created.Record.RecordID, res.Record.RecordID)
	})
}

func TestService_InvalidatesStats(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	compute := func(ctx context.Context) (stats.Counts, error) {
		n, err := f.records.CountByDatasetAndWorker(ctx, 1, "a")
		return stats.Counts{TotalCount: 3, AnnotatedCount: n}, err
	}

	before, err := f.stats.GetOrCompute(ctx, 1, "a", compute)
	require.NoError(t, err)
	assert.Zero(t, before.AnnotatedCount)

	for item := int64(1); item <= 3; item++ {
		_, err := f.service.Upsert(ctx, submission(item, "a", domain.SingleLabel(1)))
		require.NoError(t, err)

		after, err := f.stats.GetOrCompute(ctx, 1, "a", compute)
		require.NoError(t, err)
		assert.Equal(t, item, after.AnnotatedCount)
	}
}

// staleFinder misses the record on its first lookup after inserting the
// record of a competing writer, as a lookup that ran just before that
// writer's insert would.
type staleFinder struct {
	domain.RecordRepository
	winner func(ctx context.Context, key domain.RecordKey) error
	calls  int
}

func (s *staleFinder) FindByKey(ctx context.Context, key domain.RecordKey) (*domain.Record, error) {
	s.calls++
	if s.calls == 1 {
		return nil, s.winner(ctx, key)
	}
	return s.RecordRepository.FindByKey(ctx, key)
}

func TestService_LostInsertRace(t *testing.T) {
	ctx := context.Background()
	db := repository.SetupTestDB(t)
	counters := repository.NewCounterRepository(db)
	records := repository.NewRecordRepository(db)
	alloc := sequence.New(counters, records, sequence.Options{})
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	var winnerID int64
	finder := &staleFinder{
		RecordRepository: records,
		winner: func(ctx context.Context, key domain.RecordKey) error {
			id, err := alloc.NextStrict(ctx, domain.CounterAnnotationRecord)
			if err != nil {
				return err
			}
			winnerID = id
			return records.Insert(ctx, &domain.Record{
				RecordID:  id,
				DatasetID: key.DatasetID,
				ItemID:    key.ItemID,
				WorkerID:  key.WorkerID,
				Label:     domain.SingleLabel(9),
				UpdatedAt: time.Now().UTC(),
			})
		},
	}
	service := NewService(finder, alloc, Options{Metrics: m})

	res, err := service.Upsert(ctx, Submission{DatasetID: 1, ItemID: 7, WorkerID: "late", Label: domain.MultiLabel(3, 1), Note: "mine"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUpdated, res.Status)
	assert.Equal(t, winnerID, res.Record.RecordID)
	assert.Equal(t, 2, finder.calls)

	stored, err := records.FindByKey(ctx, domain.RecordKey{DatasetID: 1, ItemID: 7, WorkerID: "late"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, winnerID, stored.RecordID)
	assert.Equal(t, []int64{3, 1}, stored.Label.IDs())
	assert.Equal(t, "mine", stored.Note)

	all, err := records.ListByDataset(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// the id drawn for the losing insert is skipped, never reused
	current, err := counters.Current(ctx, domain.CounterAnnotationRecord)
	require.NoError(t, err)
	assert.Equal(t, winnerID+1, current)

	expected := `
# HELP marcador_label_conflicts_recovered_total Racing inserts turned into updates of the winning record
# TYPE marcador_label_conflicts_recovered_total counter
marcador_label_conflicts_recovered_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marcador_label_conflicts_recovered_total"))
}

type failingIDs struct{}

func (failingIDs) NextStrict(context.Context, string) (int64, error) {
	return 0, &domain.StorageError{Op: "incrementing", Err: errors.New("database is locked"), Transient: true}
}

func TestService_AllocationFailure(t *testing.T) {
	ctx := context.Background()
	db := repository.SetupTestDB(t)
	records := repository.NewRecordRepository(db)
	service := NewService(records, failingIDs{}, Options{})

	_, err := service.Upsert(ctx, submission(1, "a", domain.SingleLabel(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientStorage)

	all, err := records.ListByDataset(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, all)
}
