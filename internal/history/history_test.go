package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.ErrorContains(t, err, `unsupported history driver "mysql"`)
}

func TestHandleEvent_RecordsFinishedLoads(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store.HandleEvent(lazyload.Event{Kind: lazyload.EventEnqueued, URL: "ignored"})
	store.HandleEvent(lazyload.Event{
		Kind:      lazyload.EventLoaded,
		TicketID:  "t1",
		ElementID: "avatar",
		URL:       "https://cdn.example.com/avatar.png",
		Bytes:     1234,
		Duration:  42 * time.Millisecond,
		Priority:  lazyload.PriorityHighest,
		Time:      base,
	})
	store.HandleEvent(lazyload.Event{
		Kind:      lazyload.EventErrored,
		TicketID:  "t2",
		ElementID: "cover",
		URL:       "https://cdn.example.com/cover.png",
		Err:       loaderrors.HTTPStatus("https://cdn.example.com/cover.png", 404),
		Time:      base.Add(time.Second),
	})

	ctx := context.Background()
	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "cover", records[0].ElementID)
	assert.Equal(t, "errored", records[0].Status)
	assert.Equal(t, "not_found", records[0].ErrorKind)
	assert.NotEmpty(t, records[0].Error)

	assert.Equal(t, "loaded", records[1].Status)
	assert.Equal(t, 1234, records[1].Bytes)
	assert.Equal(t, int64(42), records[1].DurationMs)
	assert.Equal(t, 1, records[1].Priority)
	assert.Len(t, records[1].ID, 36)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{{Status: "errored", Count: 1}, {Status: "loaded", Count: 1}}, summary)
}

func TestRecent_Limit(t *testing.T) {
	store := openTestStore(t)
	faker := gofakeit.New(7)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 30; i++ {
		require.NoError(t, store.Record(ctx, &LoadRecord{
			ElementID: faker.UUID(),
			URL:       faker.URL(),
			Status:    "loaded",
			Bytes:     faker.Number(100, 100000),
			CreatedAt: start.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := store.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.True(t, records[0].CreatedAt.After(records[4].CreatedAt))

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 30)
}

func TestHandleEvent_SurvivesClosedStore(t *testing.T) {
	store, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.NotPanics(t, func() {
		store.HandleEvent(lazyload.Event{Kind: lazyload.EventErrored, Err: errors.New("x"), Time: time.Now()})
	})
}
