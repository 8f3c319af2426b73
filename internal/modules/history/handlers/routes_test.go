package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := history.NewPriceStore(db.Conn(), zerolog.Nop())
	require.NoError(t, err)

	handler := NewHandler(store, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func TestUploadAndGetPrices(t *testing.T) {
	router := newTestRouter(t)

	date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	body := `[{"date":"` + date + `","close":101.5}]`

	req := httptest.NewRequest("PUT", "/prices/AAA", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/prices/AAA", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []history.DailyPrice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 101.5, resp.Data[0].Close)
}

func TestUploadPrices_Validation(t *testing.T) {
	router := newTestRouter(t)

	testCases := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"empty list", "[]"},
		{"bad date", `[{"date":"yesterday","close":100}]`},
		{"non-positive price", `[{"date":"2024-01-02","close":0}]`},
	}

	for _, tc := range testCases {
		req := httptest.NewRequest("PUT", "/prices/AAA", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}

func TestGetPrices_InvalidLimit(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/prices/AAA?limit=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
