package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"caskwatch/internal/api/middleware"
	"caskwatch/internal/catalog"
	"caskwatch/internal/model"
	"caskwatch/internal/pkg/metrics"
	"caskwatch/internal/pkg/redisqueue"
	"caskwatch/internal/pricing"

	"github.com/gin-gonic/gin"
)

type mockEntityService struct {
	createFunc  func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error)
	mergeFunc   func(ctx context.Context, rootID uint, losingIDs []uint) error
	getFunc     func(ctx context.Context, id uint) (*model.Entity, error)
	createCalls int
	mergeCalls  int
}

func (m *mockEntityService) CreateOrAugment(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
	m.createCalls++
	return m.createFunc(ctx, input)
}

func (m *mockEntityService) GetByID(ctx context.Context, id uint) (*model.Entity, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &model.Entity{ID: id}, nil
}

func (m *mockEntityService) List(ctx context.Context) ([]model.Entity, error) {
	return nil, nil
}

func (m *mockEntityService) Merge(ctx context.Context, rootID uint, losingIDs []uint) error {
	m.mergeCalls++
	return m.mergeFunc(ctx, rootID, losingIDs)
}

type mockIngestor struct {
	ingestFunc func(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error)
	calls      int
}

func (m *mockIngestor) IngestBatch(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
	m.calls++
	return m.ingestFunc(ctx, storeID, entries)
}

func newTestServer(entities EntityService, ingestor PriceIngestor) *Server {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics(1)
	return &Server{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		entities: entities,
		ingestor: ingestor,
	}
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateEntity_Created(t *testing.T) {
	entities := &mockEntityService{
		createFunc: func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
			return &model.Entity{ID: 1, Name: input.Name, Type: input.Types}, catalog.OutcomeCreated, nil
		},
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleCreateEntity(c)
	})

	w := doJSON(r, http.MethodPost, "/entities", createEntityRequest{
		Name: "Ardbeg", Type: []string{"brand"}, Country: "Scotland", Region: "Islay",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if entities.createCalls != 1 {
		t.Fatalf("expected createOrAugment to be called")
	}
}

func TestCreateEntity_AugmentedReturns200(t *testing.T) {
	entities := &mockEntityService{
		createFunc: func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
			return &model.Entity{ID: 1, Name: input.Name, Type: []string{"brand", "distiller"}}, catalog.OutcomeAugmented, nil
		},
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleCreateEntity(c)
	})

	w := doJSON(r, http.MethodPost, "/entities", createEntityRequest{
		Name: "Ardbeg", Type: []string{"distiller"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for augmented entity, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("distiller")) {
		t.Fatalf("expected accumulated types in response: %s", w.Body.String())
	}
}

func TestCreateEntity_TypeOptional(t *testing.T) {
	entities := &mockEntityService{
		createFunc: func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
			if len(input.Types) != 0 {
				t.Errorf("types = %v, want empty", input.Types)
			}
			return &model.Entity{ID: 2, Name: input.Name}, catalog.OutcomeCreated, nil
		},
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleCreateEntity(c)
	})

	w := doJSON(r, http.MethodPost, "/entities", gin.H{"name": "Port Askaig"})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 without type field, got %d: %s", w.Code, w.Body.String())
	}
	if entities.createCalls != 1 {
		t.Fatalf("expected createOrAugment to be called")
	}
}

func TestCreateEntity_NoNewTypesConflicts(t *testing.T) {
	entities := &mockEntityService{
		createFunc: func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
			return nil, "", catalog.ErrNoNewTypes
		},
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleCreateEntity(c)
	})

	w := doJSON(r, http.MethodPost, "/entities", createEntityRequest{
		Name: "Ardbeg", Type: []string{"brand"},
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCreateEntity_InvalidType(t *testing.T) {
	entities := &mockEntityService{
		createFunc: func(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error) {
			return nil, "", catalog.ErrInvalidType
		},
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleCreateEntity(c)
	})

	w := doJSON(r, http.MethodPost, "/entities", createEntityRequest{
		Name: "Ardbeg", Type: []string{"warehouse"},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMergeEntities_RejectsSelfMerge(t *testing.T) {
	entities := &mockEntityService{
		mergeFunc: func(ctx context.Context, rootID uint, losingIDs []uint) error { return nil },
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities/:id/merge", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleMergeEntities(c)
	})

	w := doJSON(r, http.MethodPost, "/entities/5/merge", mergeEntitiesRequest{EntityIDs: []uint{5}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self merge, got %d", w.Code)
	}
	if entities.mergeCalls != 0 {
		t.Fatalf("merge must not run for self merge")
	}
}

func TestMergeEntities_NotFound(t *testing.T) {
	entities := &mockEntityService{
		mergeFunc: func(ctx context.Context, rootID uint, losingIDs []uint) error { return catalog.ErrNotFound },
	}
	s := newTestServer(entities, nil)

	r := gin.New()
	r.POST("/entities/:id/merge", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleMergeEntities(c)
	})

	w := doJSON(r, http.MethodPost, "/entities/5/merge", mergeEntitiesRequest{EntityIDs: []uint{6}})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestIngestPrices_ReturnsResult(t *testing.T) {
	ingestor := &mockIngestor{
		ingestFunc: func(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
			if storeID != 7 {
				t.Errorf("storeID = %d, want 7", storeID)
			}
			return &pricing.Result{Total: len(entries), Matched: 1, Unmatched: len(entries) - 1}, nil
		},
	}
	s := newTestServer(nil, ingestor)

	r := gin.New()
	r.POST("/stores/:id/prices", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleIngestPrices(c)
	})

	w := doJSON(r, http.MethodPost, "/stores/7/prices", []priceEntryRequest{
		{Name: "Ardbeg 10", Price: 5499, URL: "https://example.com/a"},
		{Name: "Mystery Dram", Price: 999},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if ingestor.calls != 1 {
		t.Fatalf("expected ingestor to be called once")
	}

	var result pricing.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if result.Total != 2 || result.Matched != 1 || result.Unmatched != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIngestPrices_AcceptsZeroPrice(t *testing.T) {
	ingestor := &mockIngestor{
		ingestFunc: func(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
			if len(entries) != 1 || entries[0].Price != 0 {
				t.Errorf("entries = %+v, want one zero-price entry", entries)
			}
			return &pricing.Result{Total: 1, Unmatched: 1}, nil
		},
	}
	s := newTestServer(nil, ingestor)

	r := gin.New()
	r.POST("/stores/:id/prices", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleIngestPrices(c)
	})

	w := doJSON(r, http.MethodPost, "/stores/7/prices",
		[]priceEntryRequest{{Name: "Free Sample Dram", Price: 0}})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for zero price, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestPrices_RejectsEmptyBatch(t *testing.T) {
	ingestor := &mockIngestor{
		ingestFunc: func(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
			return &pricing.Result{}, nil
		},
	}
	s := newTestServer(nil, ingestor)

	r := gin.New()
	r.POST("/stores/:id/prices", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleIngestPrices(c)
	})

	w := doJSON(r, http.MethodPost, "/stores/7/prices", []priceEntryRequest{})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", w.Code)
	}
	if ingestor.calls != 0 {
		t.Fatalf("ingestor must not run on empty batch")
	}
}

func TestIngestPrices_UnknownStore(t *testing.T) {
	ingestor := &mockIngestor{
		ingestFunc: func(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error) {
			return nil, catalog.ErrNotFound
		},
	}
	s := newTestServer(nil, ingestor)

	r := gin.New()
	r.POST("/stores/:id/prices", func(c *gin.Context) {
		c.Set("userID", 1)
		s.handleIngestPrices(c)
	})

	w := doJSON(r, http.MethodPost, "/stores/99/prices",
		[]priceEntryRequest{{Name: "Ardbeg 10", Price: 5499}})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRequireAdmin_BlocksMod(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/admin-only",
		func(c *gin.Context) { c.Set("role", model.RoleMod); c.Next() },
		middleware.RequireAdmin(),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)

	w := doJSON(r, http.MethodPost, "/admin-only", gin.H{})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mod role, got %d", w.Code)
	}

	r2 := gin.New()
	r2.POST("/admin-only",
		func(c *gin.Context) { c.Set("role", model.RoleAdmin); c.Next() },
		middleware.RequireAdmin(),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)
	w2 := doJSON(r2, http.MethodPost, "/admin-only", gin.H{})
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d", w2.Code)
	}
}
