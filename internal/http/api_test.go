package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
	"gosh-fetch/internal/engine/enginetest"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/repository/sqlite"
	"gosh-fetch/internal/service"
	"gosh-fetch/internal/storage"
	"gosh-fetch/internal/trackers"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=sample"

type apiFixture struct {
	router *gin.Engine
	eng    *enginetest.Engine
	store  *sqlite.Store
}

func newAPI(t *testing.T, secret string, opts ...func(*Config)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := sqlite.OpenStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	trackerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "udp://tracker.one:1337/announce\n\nhttps://tracker.two/announce\n")
	}))
	t.Cleanup(trackerSrv.Close)

	eng := enginetest.New()
	a := adapter.New(eng, adapter.NewResolver(5*time.Second), afero.NewMemMapFs(), logger)
	bridge := service.NewBridge(a, store.Downloads, service.BridgeConfig{Logger: logger})
	hub := service.NewHub(64, logger)
	go hub.Run(bridge.Events())

	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-bridge.Done()
	})

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	cfg := Config{
		Bridge:      bridge,
		Adapter:     a,
		Hub:         hub,
		History:     service.NewHistoryService(store.Downloads),
		Settings:    service.NewSettingsService(store.Settings, store.Trackers, logger),
		Trackers:    trackers.NewUpdater(trackers.Config{URL: trackerSrv.URL, Logger: logger}, store.Trackers),
		Gatherer:    reg,
		TokenSecret: secret,
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := NewHandler(cfg)
	router := gin.New()
	h.RegisterRoutes(router)
	return &apiFixture{router: router, eng: eng, store: store}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAddMagnetAndList(t *testing.T) {
	f := newAPI(t, "")

	w := f.do(t, http.MethodPost, "/api/downloads", gin.H{"magnet": testMagnet, "options": gin.H{"dir": "/data"}}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	gid := decode[map[string]string](t, w)["gid"]
	require.NotEmpty(t, gid)

	w = f.do(t, http.MethodGet, "/api/downloads", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]domain.DownloadRecord](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, gid, list[0].GID)
	assert.Equal(t, "/data", list[0].SavePath)

	w = f.do(t, http.MethodGet, "/api/downloads/"+gid, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/api/downloads/"+gid+"/peers", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	stored, err := f.store.Downloads.GetByGID(context.Background(), gid)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadTypeMagnet, stored.Type)
}

func TestAddRequiresASource(t *testing.T) {
	f := newAPI(t, "")
	w := f.do(t, http.MethodPost, "/api/downloads", gin.H{"options": gin.H{}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/downloads", gin.H{"torrent": "%%%"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddURLRejectsHTMLPage(t *testing.T) {
	f := newAPI(t, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	w := f.do(t, http.MethodPost, "/api/downloads", gin.H{"url": srv.URL + "/download?id=7"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, string(domain.KindInvalidInput), body["kind"])
	assert.Contains(t, body["error"], adapter.ErrHTMLPage)
	assert.Empty(t, f.eng.List(), "nothing reaches the engine")
}

func TestAddURLUsesResolvedLocation(t *testing.T) {
	f := newAPI(t, "")
	mux := http.NewServeMux()
	mux.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/image.iso", http.StatusFound)
	})
	mux.HandleFunc("/files/image.iso", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("data"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := f.do(t, http.MethodPost, "/api/downloads", gin.H{"urls": []string{srv.URL + "/go", srv.URL + "/files/image.iso"}}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	gids := decode[map[string][]string](t, w)["gids"]
	require.Len(t, gids, 2)

	for _, gid := range gids {
		st, ok := f.eng.Status(engine.ID(gid))
		require.True(t, ok)
		assert.Equal(t, srv.URL+"/files/image.iso", st.Metadata.URL)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newAPI(t, "")

	w := f.do(t, http.MethodPost, "/api/downloads/6ba7b810-9dad-11d1-80b4-00c04fd430c8/pause", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/downloads", gin.H{"magnet": testMagnet}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	gid := decode[map[string]string](t, w)["gid"]

	w = f.do(t, http.MethodPost, "/api/downloads/"+gid+"/resume", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "a queued download cannot be resumed")

	w = f.do(t, http.MethodPost, "/api/downloads/"+gid+"/pause", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	st, _ := f.eng.Status(engine.ID(gid))
	assert.Equal(t, engine.StatePaused, st.State.Kind)

	w = f.do(t, http.MethodPost, "/api/downloads/resume-all", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	st, _ = f.eng.Status(engine.ID(gid))
	assert.Equal(t, engine.StateDownloading, st.State.Kind)

	w = f.do(t, http.MethodPost, "/api/downloads/pause-all", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/downloads/"+gid+"?delete_files=yes-please", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/downloads/"+gid+"?delete_files=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	deleteFiles, ok := f.eng.Cancelled(engine.ID(gid))
	assert.True(t, ok)
	assert.True(t, deleteFiles)

	w = f.do(t, http.MethodGet, "/api/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[domain.GlobalStats](t, w).NumWaiting)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newAPI(t, "")

	w := f.do(t, http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/settings", gin.H{"max_concurrent_downloads": 0}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/settings", gin.H{"max_concurrent_downloads": 4, "download_path": "/srv/dl"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4, decode[domain.Settings](t, w).MaxConcurrentDownloads)
	assert.Equal(t, 4, f.eng.Config().MaxConcurrentDownloads)
	assert.Equal(t, "/srv/dl", f.eng.Config().DownloadDir)
}

func TestHistoryEndpoints(t *testing.T) {
	f := newAPI(t, "")
	ctx := context.Background()

	rec := &domain.DownloadRecord{GID: "6ba7b811-9dad-11d1-80b4-00c04fd430c8", Name: "old.iso", Type: domain.DownloadTypeHTTP, CreatedAt: time.Now()}
	rec.MarkComplete(time.Now())
	_, err := f.store.Downloads.Save(ctx, rec)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/history?limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.DownloadRecord](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/history?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]int64](t, w)["deleted"])
}

func TestTrackersAndPreview(t *testing.T) {
	f := newAPI(t, "")

	w := f.do(t, http.MethodPost, "/api/trackers/update", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode[map[string]int](t, w)["count"])

	w = f.do(t, http.MethodPost, "/api/downloads/preview", gin.H{"magnet": testMagnet}, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[domain.MagnetInfo](t, w)
	assert.Equal(t, "c9e15763f722f23e98a29decdfae341b98d53056", info.InfoHash)
	assert.Equal(t, "sample", info.Name)
}

func TestBearerAuth(t *testing.T) {
	const secret = "s3cret"
	f := newAPI(t, secret)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/health", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/downloads", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/downloads", nil, "garbage").Code)

	other, err := IssueToken("another-secret", "cli", time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/downloads", nil, other).Code)

	expired, err := IssueToken(secret, "cli", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/downloads", nil, expired).Code)

	token, err := IssueToken(secret, "cli", time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/downloads", nil, token).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/stats?token="+token, nil, "").Code)

	_, err = IssueToken("", "cli", time.Hour, time.Now())
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t, "")
	f.do(t, http.MethodGet, "/api/stats", nil, "")

	w := f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gosh_fetch_http_requests_total{method="GET",path="/api/stats",status="200"}`)
}

func TestWebsocketRelaysEvents(t *testing.T) {
	f := newAPI(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var first service.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, service.EventDownloadsList, first.Type)

	resp, err := http.Post(srv.URL+"/api/downloads", "application/json", strings.NewReader(`{"magnet":"`+testMagnet+`"}`))
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	for {
		var ev service.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == service.EventDownloadAdded {
			assert.Equal(t, created["gid"], ev.GID)
			require.NotNil(t, ev.Download)
			assert.Equal(t, testMagnet, ev.Download.MagnetURI)
			return
		}
	}
}

type stubArchive struct {
	objects []storage.ObjectInfo
	deleted []string
}

func (s *stubArchive) Upload(ctx context.Context, key string, body io.Reader) error {
	s.objects = append(s.objects, storage.ObjectInfo{Key: key})
	return nil
}

func (s *stubArchive) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for _, o := range s.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubArchive) DeletePrefix(ctx context.Context, prefix string) error {
	s.deleted = append(s.deleted, prefix)
	return nil
}

func TestArchiveEndpoints(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, newAPI(t, "").do(t, http.MethodGet, "/api/archive", nil, "").Code)

	archive := &stubArchive{objects: []storage.ObjectInfo{{Key: "dl/g1/a.iso"}, {Key: "dl/g2/b.iso"}}}
	archiver := storage.NewArchiver(archive, storage.ArchiverConfig{KeyPrefix: "dl", Fs: afero.NewMemMapFs()})
	f := newAPI(t, "", func(c *Config) {
		c.Archive = archive
		c.Archiver = archiver
	})

	w := f.do(t, http.MethodGet, "/api/archive?gid=g1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	objs := decode[[]storage.ObjectInfo](t, w)
	require.Len(t, objs, 1)
	assert.Equal(t, "dl/g1/a.iso", objs[0].Key)

	w = f.do(t, http.MethodGet, "/api/archive?prefix=none/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/downloads/g2/archive", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dl/g2/"}, archive.deleted)
}
