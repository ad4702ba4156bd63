package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsTicker/internal/engine"
	"github.com/LJTian/NewsTicker/internal/reader"
	"github.com/LJTian/NewsTicker/internal/rotation"
	"github.com/LJTian/NewsTicker/internal/settings"
	"github.com/LJTian/NewsTicker/internal/storage"
)

type fakeEngine struct {
	rot     *rotation.State[engine.RankedItem]
	result  engine.CycleResult
	reloads int
}

func (f *fakeEngine) TriggerCycle(context.Context) engine.CycleResult { return f.result }
func (f *fakeEngine) ReloadRanked(context.Context) (int, error) {
	f.reloads++
	return f.rot.Len(), nil
}
func (f *fakeEngine) CurrentRankedItems() []engine.RankedItem  { return f.rot.Snapshot() }
func (f *fakeEngine) CurrentItem() (engine.RankedItem, bool) { return f.rot.Current() }
func (f *fakeEngine) NextItem() (engine.RankedItem, bool)    { return f.rot.Advance() }
func (f *fakeEngine) FetchArticleContent(_ context.Context, url, summary, image string) reader.Result {
	return reader.Result{Text: summary, ImageURL: image, UsedFallback: true}
}

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memKV) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) SetSettings(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

type fakeScheduler struct {
	last *settings.EngineConfig
}

func (f *fakeScheduler) Reschedule(cfg settings.EngineConfig) error {
	f.last = &cfg
	return nil
}

type memCatalog struct {
	sources    map[uint]*storage.Source
	categories map[uint]*storage.Category
	nextID     uint
}

func newMemCatalog() *memCatalog {
	return &memCatalog{sources: map[uint]*storage.Source{}, categories: map[uint]*storage.Category{}}
}

func (m *memCatalog) ListSources(context.Context) ([]storage.Source, error) {
	var out []storage.Source
	for id := uint(1); id <= m.nextID; id++ {
		if s, ok := m.sources[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memCatalog) GetSource(_ context.Context, id uint) (*storage.Source, error) {
	s, ok := m.sources[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memCatalog) CreateSource(_ context.Context, src *storage.Source) error {
	for _, s := range m.sources {
		if s.URL == src.URL {
			return storage.ErrDuplicate
		}
	}
	m.nextID++
	src.ID = m.nextID
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *memCatalog) UpdateSource(_ context.Context, src *storage.Source) error {
	if _, ok := m.sources[src.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *memCatalog) DeleteSource(_ context.Context, id uint) error {
	if _, ok := m.sources[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

func (m *memCatalog) ListCategories(context.Context) ([]storage.Category, error) {
	var out []storage.Category
	for id := uint(1); id <= m.nextID; id++ {
		if c, ok := m.categories[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCatalog) GetCategory(_ context.Context, id uint) (*storage.Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCatalog) CreateCategory(_ context.Context, c *storage.Category) error {
	m.nextID++
	c.ID = m.nextID
	c.Keywords = storage.NormalizeKeywords(c.Keywords)
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *memCatalog) UpdateCategory(_ context.Context, c *storage.Category) error {
	if _, ok := m.categories[c.ID]; !ok {
		return storage.ErrNotFound
	}
	c.Keywords = storage.NormalizeKeywords(c.Keywords)
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *memCatalog) DeleteCategory(_ context.Context, id uint) error {
	if _, ok := m.categories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

type testEnv struct {
	router    *gin.Engine
	engine    *fakeEngine
	kv        *memKV
	scheduler *fakeScheduler
	catalog   *memCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		engine:    &fakeEngine{rot: rotation.New[engine.RankedItem]()},
		kv:        &memKV{values: map[string]string{}},
		scheduler: &fakeScheduler{},
		catalog:   newMemCatalog(),
	}
	env.router = gin.New()
	NewServer(env.engine, settings.NewStore(env.kv), env.scheduler, env.catalog).RegisterRoutes(env.router)
	return env
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var out envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestItemsAndRotation(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/v1/rotation/current", nil)
	assert.Equal(t, http.StatusNotFound, code)

	env.engine.rot.Replace([]engine.RankedItem{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}, {ID: 3, Title: "c"}})

	code, resp := env.do(t, http.MethodGet, "/api/v1/items?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	var items []engine.RankedItem
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	assert.Len(t, items, 2)

	var cur engine.RankedItem
	_, resp = env.do(t, http.MethodGet, "/api/v1/rotation/current", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &cur))
	assert.Equal(t, "a", cur.Title)

	_, resp = env.do(t, http.MethodPost, "/api/v1/rotation/next", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &cur))
	assert.Equal(t, "b", cur.Title)

	_, resp = env.do(t, http.MethodGet, "/api/v1/rotation/current", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &cur))
	assert.Equal(t, "b", cur.Title)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.engine.result = engine.CycleResult{Inserted: 4, FailedSources: 1, TotalSources: 3}

	code, resp := env.do(t, http.MethodPost, "/api/v1/refresh", nil)
	require.Equal(t, http.StatusOK, code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.EqualValues(t, 4, data["inserted"])
	assert.EqualValues(t, 1, data["failedSources"])
	assert.EqualValues(t, 3, data["totalSources"])
	assert.Equal(t, engine.StatusPartial, data["status"])
}

func TestContent(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/v1/content", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := env.do(t, http.MethodGet, "/api/v1/content?url=https://example.com/a&summary=kort", nil)
	require.Equal(t, http.StatusOK, code)
	var res reader.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, "kort", res.Text)
	assert.True(t, res.UsedFallback)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var cfg settings.EngineConfig
	require.NoError(t, json.Unmarshal(resp.Data, &cfg))
	assert.Equal(t, settings.Defaults(), cfg)

	code, resp = env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"fetch_interval_sec": 120,
		"min_score":          "1.5",
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &cfg))
	assert.Equal(t, 120, cfg.FetchIntervalSec)
	assert.Equal(t, 1.5, cfg.MinScore)
	require.NotNil(t, env.scheduler.last)
	assert.Equal(t, 120, env.scheduler.last.FetchIntervalSec)
	assert.Equal(t, 1, env.engine.reloads)

	code, resp = env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"fetch_interval_sec": 60,
		"max_items":          "lots",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_config", resp.Code)
	assert.Equal(t, "120", env.kv.values[settings.KeyFetchIntervalSec], "rejected patch leaves values untouched")

	code, _ = env.do(t, http.MethodPut, "/api/v1/settings", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateSettingsAcceptsLargeIntegers(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"max_items":             1000000,
		"rotation_interval_sec": 86400,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var cfg settings.EngineConfig
	require.NoError(t, json.Unmarshal(resp.Data, &cfg))
	assert.Equal(t, 1000000, cfg.MaxItems)
	assert.Equal(t, "1000000", env.kv.values[settings.KeyMaxItems])
	assert.Equal(t, "86400", env.kv.values[settings.KeyRotationIntervalSec])
}

func TestSourceCRUD(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
		"name": "NRK",
		"url":  "https://www.nrk.no/toppsaker.rss",
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var src storage.Source
	require.NoError(t, json.Unmarshal(resp.Data, &src))
	assert.Equal(t, 1.0, src.Weight)
	assert.True(t, src.Enabled)

	code, resp = env.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
		"name": "NRK again",
		"url":  "https://www.nrk.no/toppsaker.rss",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate", resp.Code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"name": "x", "url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"name": "x", "url": "https://x.no", "weight": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, http.MethodPut, "/api/v1/sources/1", map[string]any{
		"name":   "NRK Toppsaker",
		"url":    "https://www.nrk.no/toppsaker.rss",
		"weight": 1.3,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &src))
	assert.Equal(t, "NRK Toppsaker", src.Name)
	assert.Equal(t, 1.3, src.Weight)
	assert.True(t, src.Enabled)

	code, resp = env.do(t, http.MethodPost, "/api/v1/sources/1/toggle", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &src))
	assert.False(t, src.Enabled)

	code, resp = env.do(t, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusOK, code)
	var list []storage.Source
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	code, _ = env.do(t, http.MethodDelete, "/api/v1/sources/1", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodDelete, "/api/v1/sources/1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodDelete, "/api/v1/sources/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// 更新、切换、删除各刷新一次展示集合
	assert.Equal(t, 3, env.engine.reloads)
}

func TestCategoryCRUD(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/v1/categories", map[string]any{
		"name":     "Sport",
		"keywords": "Fotball, OL ,fotball",
		"weight":   1.1,
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var cat storage.Category
	require.NoError(t, json.Unmarshal(resp.Data, &cat))
	assert.Equal(t, "fotball,ol", cat.Keywords)
	assert.True(t, cat.Enabled)

	code, resp = env.do(t, http.MethodPut, "/api/v1/categories/1", map[string]any{
		"name":     "Sport",
		"keywords": "fotball,ski",
		"enabled":  false,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &cat))
	assert.Equal(t, "fotball,ski", cat.Keywords)
	assert.Equal(t, 1.1, cat.Weight)
	assert.False(t, cat.Enabled)

	code, resp = env.do(t, http.MethodPost, "/api/v1/categories/1/toggle", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &cat))
	assert.True(t, cat.Enabled)

	code, resp = env.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, code)
	var list []storage.Category
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	code, _ = env.do(t, http.MethodPut, "/api/v1/categories/9", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodDelete, "/api/v1/categories/1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, env.engine.reloads)
}
