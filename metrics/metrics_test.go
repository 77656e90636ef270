package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pharmacy-ledger/ledger"
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation("sale", ledger.OutcomeCommitted, ledger.KindUnknown, 5*time.Millisecond)
	m.ObserveOperation("sale", ledger.OutcomeAborted, ledger.KindInsufficientStock, time.Millisecond)
	m.ObserveOperation("sale", ledger.OutcomeAborted, ledger.KindInsufficientStock, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("sale", "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("sale", "aborted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues("sale", "insufficient_stock")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationTime))
}

func TestSetLowStock(t *testing.T) {
	m := New()
	m.SetLowStock(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.lowStockItems))
}

func TestHandlerExposesSeries(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/api/stock", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pharmacy_http_requests_total{method="GET",route="/api/stock",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.SetLowStock(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.lowStockItems))
}
