package reportapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/execution"
	"titan/internal/registry"
	"titan/internal/runtime"
)

func TestGetCapitalBook(t *testing.T) {
	b := bus.NewMemoryBus()
	store := capital.NewStore(b, nil)
	_, err := store.Mutate(context.Background(), "tenant-a", "seed", func(book *capital.Book) {
		book.Allocations["MomentumStrategy"] = 0.2
	})
	require.NoError(t, err)

	router := Router(Deps{CapitalStore: store})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/capital/book/tenant-a", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var book capital.Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, 0.2, book.Allocations["MomentumStrategy"])
}

func TestGetSessionPnL(t *testing.T) {
	b := bus.NewMemoryBus()
	tracker := execution.NewTracker(b)
	sessionDate := execution.SessionDate(time.Now())
	_, err := tracker.Record(context.Background(), "tenant-a", "BTCUSDT", sessionDate, 125.5)
	require.NoError(t, err)

	router := Router(Deps{PnLTracker: tracker})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pnl/tenant-a/BTCUSDT/"+sessionDate, nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var pnl execution.SessionPnL
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pnl))
	assert.Equal(t, 125.5, pnl.Realized)
}

func TestListModulesNotConfigured(t *testing.T) {
	router := Router(Deps{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/registry/modules", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListModules(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := registry.New(b)
	require.NoError(t, reg.Register(context.Background(), registry.Record{
		Name: "integrity-checker", Version: "v1", Type: runtime.TypeFilter, Status: registry.StatusLive,
	}))

	router := Router(Deps{Registry: reg})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/registry/modules", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var records []registry.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "integrity-checker", records[0].Name)
}
