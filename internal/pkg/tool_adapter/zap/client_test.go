package zap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAgainstFakeDaemon(t *testing.T) {
	var gotKey, gotTarget, stopped string
	mux := http.NewServeMux()
	mux.HandleFunc("/JSON/spider/action/scan/", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-ZAP-API-Key")
		gotTarget = r.URL.Query().Get("url")
		w.Write([]byte(`{"scan":"7"}`))
	})
	mux.HandleFunc("/JSON/spider/view/status/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("scanId"))
		w.Write([]byte(`{"status":"45"}`))
	})
	mux.HandleFunc("/JSON/ascan/action/stop/", func(w http.ResponseWriter, r *http.Request) {
		stopped = r.URL.Query().Get("scanId")
		w.Write([]byte(`{"Result":"OK"}`))
	})
	mux.HandleFunc("/JSON/core/view/alerts/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://app.local", r.URL.Query().Get("baseurl"))
		w.Write([]byte(`{"alerts":[]}`))
	})
	mux.HandleFunc("/JSON/ascan/action/scan/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"url_not_found","message":"URL Not Found in the Scan Tree"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k3y", time.Second)
	ctx := context.Background()

	id, err := c.StartSpider(ctx, "http://app.local")
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.Equal(t, "k3y", gotKey)
	assert.Equal(t, "http://app.local", gotTarget)

	progress, err := c.SpiderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 45, progress)

	require.NoError(t, c.StopActiveScan(ctx, "9"))
	assert.Equal(t, "9", stopped)

	alerts, err := c.Alerts(ctx, "http://app.local")
	require.NoError(t, err)
	assert.JSONEq(t, `{"alerts":[]}`, string(alerts))

	_, err = c.StartActiveScan(ctx, "http://app.local")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "url_not_found", apiErr.Code)
}

func TestClientMalformedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"does not exist"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).ActiveScanStatus(context.Background(), "1")
	assert.Error(t, err)
}
