package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomstock/backoffice/internal/config"
	"github.com/bloomstock/backoffice/internal/currency"
	"github.com/bloomstock/backoffice/internal/importlog"
	"github.com/bloomstock/backoffice/internal/inventory"
	"github.com/bloomstock/backoffice/internal/invoice"
	"github.com/bloomstock/backoffice/internal/pkg/httpretry"
	"github.com/bloomstock/backoffice/internal/pricing"
)

// memCatalog implements invoice.Catalog and pricing.VariantWriter.
type memCatalog struct {
	mu       sync.Mutex
	flowers  map[string]*inventory.Flower
	variants map[string]*inventory.Variant
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		flowers:  make(map[string]*inventory.Flower),
		variants: make(map[string]*inventory.Variant),
	}
}

func (c *memCatalog) FindFlowerBySlug(_ context.Context, slug string) (*inventory.Flower, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flowers[slug]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (c *memCatalog) FindVariant(_ context.Context, flowerID string, length int) (*inventory.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.variants[fmt.Sprintf("%s/%d", flowerID, length)]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (c *memCatalog) CreateFlower(_ context.Context, f inventory.Flower) (*inventory.Flower, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := f
	c.flowers[f.Slug] = &cp
	out := cp
	return &out, nil
}

func (c *memCatalog) CreateVariant(_ context.Context, v inventory.Variant) (*inventory.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := v
	c.variants[fmt.Sprintf("%s/%d", v.FlowerID, v.Length)] = &cp
	out := cp
	return &out, nil
}

func (c *memCatalog) UpdateFlower(_ context.Context, documentID string, patch inventory.FlowerPatch) (*inventory.Flower, error) {
	return nil, fmt.Errorf("flower %s not found", documentID)
}

func (c *memCatalog) UpdateVariant(_ context.Context, documentID string, patch inventory.VariantPatch) (*inventory.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.variants {
		if v.DocumentID == documentID {
			if patch.Cost != nil {
				v.Cost = *patch.Cost
			}
			if patch.Price != nil {
				v.Price = *patch.Price
			}
			if patch.Stock != nil {
				v.Stock = *patch.Stock
			}
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("variant %s not found", documentID)
}

type stubDoer struct {
	status int
	body   string
}

func (s *stubDoer) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
	}, nil
}

var _ httpretry.HTTPDoer = (*stubDoer)(nil)

type testEnv struct {
	catalog *memCatalog
	mock    sqlmock.Sqlmock
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := importlog.NewStore(db)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	rates := currency.NewProvider(currency.Config{RateURL: "http://rates.test/usd", FallbackRate: 90.0}, rdb)
	rates.SetHTTPClient(&stubDoer{status: http.StatusOK, body: `{"rate": 92.5}`})

	catalog := newMemCatalog()
	importer := invoice.NewService(catalog, store)
	pricingSvc := pricing.NewService(catalog)

	h := NewHandlers(importer, store, rates, pricingSvc, nil, config.ImportConfig{
		MaxUploadMB:        16,
		TransferFeePercent: 3.5,
	})

	return &testEnv{
		catalog: catalog,
		mock:    mock,
		router:  SetupRoutes(h, []string{"http://localhost:5173"}),
	}
}

func multipartUpload(t *testing.T, csv string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "invoice.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return rec, envelope
}

const testCSV = "Variety,Grade,Qty,Price\nFreedom Rose,premium,250,0.45\nMondial,select,100,0.50\n"

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec, envelope := doJSON(t, env.router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, envelope["success"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestHandleImportPreviewIsDefault(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, testCSV, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Status string                `json:"status"`
			Rows   []invoice.NormalizedRow `json:"rows"`
			Stats  invoice.Stats         `json:"stats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "dry-run", envelope.Data.Status)
	assert.Len(t, envelope.Data.Rows, 2)
	assert.Equal(t, 2, envelope.Data.Stats.TotalRows)

	// No catalog writes, no db traffic on a preview.
	assert.Empty(t, env.catalog.flowers)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleImportApply(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO supplier_imports`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectBegin()
	env.mock.ExpectExec(regexp.QuoteMeta(`UPDATE supplier_imports`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < 4; i++ { // two flowers + two variants created
		env.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO import_operations`)).
			WillReturnResult(sqlmock.NewResult(int64(i + 1), 1))
	}
	env.mock.ExpectCommit()

	body, contentType := multipartUpload(t, testCSV, map[string]string{"dryRun": "false"})
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data struct {
			Status       string               `json:"status"`
			PriceEntries []pricing.PriceEntry `json:"priceEntries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "success", envelope.Data.Status)

	// Apply responses carry the reconciliation worksheet, converted at
	// the current exchange rate.
	require.Len(t, envelope.Data.PriceEntries, 2)
	assert.InDelta(t, 0.45*92.5, envelope.Data.PriceEntries[0].Cost, 1e-9)

	require.NotNil(t, env.catalog.flowers["freedom-rose"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleImportDuplicateChecksum(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO supplier_imports`)).
		WillReturnResult(sqlmock.NewResult(0, 0)) // checksum already claimed

	body, contentType := multipartUpload(t, testCSV, map[string]string{"dryRun": "false"})
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, CodeDuplicateChecksum, envelope.Error.Code)
}

func TestHandleImportValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("dryRun", "true"))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), CodeValidation)
	})

	t.Run("invalid stockMode", func(t *testing.T) {
		body, contentType := multipartUpload(t, testCSV, map[string]string{"stockMode": "merge"})
		req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid stockMode")
	})

	t.Run("invalid costMode", func(t *testing.T) {
		body, contentType := multipartUpload(t, testCSV, map[string]string{"costMode": "landed"})
		req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid costMode")
	})

	t.Run("malformed rowOverrides", func(t *testing.T) {
		body, contentType := multipartUpload(t, testCSV, map[string]string{"rowOverrides": "{"})
		req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid rowOverrides")
	})

	t.Run("unparseable file", func(t *testing.T) {
		body, contentType := multipartUpload(t, "Qty,Price\n10,0.5\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "no variety name column")
	})
}

func TestHandleImportFullCostParams(t *testing.T) {
	env := newTestEnv(t)

	csv := "Name,Grade,Qty,Price,Transport,Boxes,Stems/Box\n" +
		"Freedom Rose,premium,500,1.00,50,10,50\n"
	body, contentType := multipartUpload(t, csv, map[string]string{
		"costMode":       "full",
		"fullCostParams": `{"truckCostPerBox":2.5,"transferFeePercent":3.5,"taxPerStem":0.05}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data struct {
			Rows []invoice.NormalizedRow `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Rows, 1)
	assert.Equal(t, "1.24025", envelope.Data.Rows[0].Price.String())
}

func TestHandleListImports(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(regexp.QuoteMeta(`FROM supplier_imports`)).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"checksum", "filename", "status", "forced", "apply_count",
			"total_rows", "valid_rows", "error_count", "created_at", "applied_at",
		}))

	rec, envelope := doJSON(t, env.router, http.MethodGet, "/api/imports", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, envelope["success"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleImportOperations(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(regexp.QuoteMeta(`FROM import_operations`)).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"entity", "op_type", "document_id", "before", "after"}).
			AddRow("flower", "create", "f-1", nil, []byte(`{"slug":"freedom-rose"}`)))

	rec, envelope := doJSON(t, env.router, http.MethodGet, "/api/imports/abc123/operations", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	data := envelope["data"].(map[string]interface{})
	ops := data["operations"].([]interface{})
	assert.Len(t, ops, 1)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleApplyPrices(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.variants["f-1/80"] = &inventory.Variant{DocumentID: "v-1", FlowerID: "f-1", Length: 80, Stock: 400}

	rec, envelope := doJSON(t, env.router, http.MethodPost, "/api/prices",
		`{"entries":[{"documentId":"v-1","price":45.0}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data := envelope["data"].(map[string]interface{})
	results := data["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]interface{})["ok"])
	assert.Equal(t, 45.0, env.catalog.variants["f-1/80"].Price)
}

func TestHandleApplyPricesValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doJSON(t, env.router, http.MethodPost, "/api/prices", `{"entries":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/prices", strings.NewReader("{"))
	env.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestCurrencyEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, envelope := doJSON(t, env.router, http.MethodGet, "/api/currency/rate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, 92.5, data["rate"])
	assert.Equal(t, currency.SourceLive, data["source"])

	rec, envelope = doJSON(t, env.router, http.MethodPost, "/api/currency/manual", `{"rate": 95.0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data = envelope["data"].(map[string]interface{})
	assert.Equal(t, 95.0, data["rate"])
	assert.Equal(t, currency.SourceManual, data["source"])

	rec, _ = doJSON(t, env.router, http.MethodPost, "/api/currency/manual", `{"rate": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, envelope = doJSON(t, env.router, http.MethodDelete, "/api/currency/manual", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = envelope["data"].(map[string]interface{})
	assert.NotEqual(t, currency.SourceManual, data["source"])
}

func TestInboxEndpointsWithoutWatcher(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(regexp.QuoteMeta(`FROM inbox_files`)).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{
			"object_key", "file_size", "status", "retry_count",
			"row_count", "error_count", "error_message", "created_at", "processed_at",
		}))

	rec, envelope := doJSON(t, env.router, http.MethodGet, "/api/inbox", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, false, data["enabled"])

	rec, _ = doJSON(t, env.router, http.MethodPost, "/api/inbox/trigger", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
