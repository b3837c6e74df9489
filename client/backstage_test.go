package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/dennislee928/carbontrade"
)

func TestBackstageClient(t *testing.T) {
	var lastQuery string
	var lastAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/error-logs", func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		lastAuth = r.Header.Get("Authorization")
		ct.WriteData(w, http.StatusOK, ct.ErrorLogList{
			ErrorLogs:  []*ct.ErrorLog{{ID: "e1", StatusCode: 500}},
			Pagination: ct.Pagination{Page: 2, Limit: 10, Total: 11},
		}, "Error logs retrieved")
	})
	mux.HandleFunc("/api/v1/market/purchase", func(w http.ResponseWriter, r *http.Request) {
		var req ct.PurchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Quantity > 10 {
			ct.WriteError(w, http.StatusBadRequest, "insufficient balance")
			return
		}
		ct.WriteData(w, http.StatusOK, ct.Purchase{PurchaseID: "p1", Quantity: req.Quantity, TotalCost: req.Quantity * 2}, "")
	})
	mux.HandleFunc("/api/v1/notifications/n1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/v1/stats/overview", func(w http.ResponseWriter, r *http.Request) {
		ct.WriteData(w, http.StatusOK, ct.OverviewStats{TotalUsers: 4}, "")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBackstageClient(srv.URL+"/api/v1", srv.Client())
	b.SetToken("admin-token")
	ctx := context.Background()

	resolved := false
	logs, err := b.ErrorLogs(ctx, ErrorLogFilter{Page: 2, Limit: 10, StatusCode: 500, Resolved: &resolved, Endpoint: "/api/v1/market"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer admin-token", lastAuth)
	assert.Equal(t, "endpoint=%2Fapi%2Fv1%2Fmarket&limit=10&page=2&resolved=false&status_code=500", lastQuery)
	require.Len(t, logs.ErrorLogs, 1)
	assert.Equal(t, int64(11), logs.Pagination.Total)

	receipt, err := b.Purchase(ctx, "c1", 4)
	require.NoError(t, err)
	assert.Equal(t, 8.0, receipt.TotalCost)

	_, err = b.Purchase(ctx, "c1", 40)
	assert.EqualError(t, err, "insufficient balance")

	err = b.DeleteNotification(ctx, "n1")
	assert.EqualError(t, err, "HTTP error! status: 500")

	stats, err := b.OverviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalUsers)
}
