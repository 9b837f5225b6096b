package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/service"
	"gosh-fetch/internal/storage"
)

// Commander accepts bridge commands; *service.Bridge implements it.
type Commander interface {
	Submit(ctx context.Context, cmd service.Command) error
}

// TrackerUpdater forces a tracker list refresh.
type TrackerUpdater interface {
	Update(ctx context.Context) ([]string, error)
}

type Config struct {
	Bridge         Commander
	Adapter        *adapter.Adapter
	Hub            *service.Hub
	History        service.HistoryService
	Settings       service.SettingsService
	Trackers       TrackerUpdater
	Archive        storage.Service
	Archiver       *storage.Archiver
	Gatherer       prometheus.Gatherer
	TokenSecret    string
	CommandTimeout time.Duration
	Logger         *logrus.Logger
}

// Handler is a thin HTTP front-end over the bridge command/event vocabulary.
// Mutations go through the bridge; reads come straight from the adapter.
type Handler struct {
	commands Commander
	adapter  *adapter.Adapter
	hub      *service.Hub
	history  service.HistoryService
	settings service.SettingsService
	trackers TrackerUpdater
	archive  storage.Service
	archiver *storage.Archiver
	gatherer prometheus.Gatherer
	secret   []byte
	timeout  time.Duration
	log      *logrus.Entry
}

func NewHandler(cfg Config) *Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Handler{
		commands: cfg.Bridge,
		adapter:  cfg.Adapter,
		hub:      cfg.Hub,
		history:  cfg.History,
		settings: cfg.Settings,
		trackers: cfg.Trackers,
		archive:  cfg.Archive,
		archiver: cfg.Archiver,
		gatherer: cfg.Gatherer,
		secret:   []byte(cfg.TokenSecret),
		timeout:  cfg.CommandTimeout,
		log:      cfg.Logger.WithField("component", "http"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), metricsMiddleware(), loggingMiddleware(h.log))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	router.GET("/ws", h.authMiddleware(), h.events)

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/api", h.authMiddleware())
	{
		api.POST("/downloads", h.addDownload)
		api.POST("/downloads/preview", h.preview)
		api.GET("/downloads", h.listDownloads)
		api.POST("/downloads/pause-all", h.pauseAll)
		api.POST("/downloads/resume-all", h.resumeAll)
		api.GET("/downloads/:gid", h.getDownload)
		api.GET("/downloads/:gid/files", h.torrentFiles)
		api.GET("/downloads/:gid/peers", h.peers)
		api.POST("/downloads/:gid/pause", h.pause)
		api.POST("/downloads/:gid/resume", h.resume)
		api.DELETE("/downloads/:gid", h.removeDownload)

		api.GET("/stats", h.stats)
		api.GET("/history", h.listHistory)
		api.DELETE("/history", h.clearHistory)
		api.GET("/settings", h.getSettings)
		api.PUT("/settings", h.putSettings)
		api.POST("/trackers/update", h.updateTrackers)
		api.GET("/archive", h.listObjects)
		api.DELETE("/downloads/:gid/archive", h.deleteArchive)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type addDownloadRequest struct {
	URL     string                 `json:"url"`
	URLs    []string               `json:"urls"`
	Magnet  string                 `json:"magnet"`
	Torrent string                 `json:"torrent"`
	Options domain.DownloadOptions `json:"options"`
}

func (h *Handler) addDownload(c *gin.Context) {
	var req addDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch {
	case strings.TrimSpace(req.Magnet) != "":
		if res, ok := h.submit(c, service.AddMagnet(strings.TrimSpace(req.Magnet), req.Options)); ok {
			c.JSON(http.StatusCreated, gin.H{"gid": res.GID})
		}

	case req.Torrent != "":
		data, err := base64.StdEncoding.DecodeString(req.Torrent)
		if err != nil {
			h.fail(c, domain.InvalidInput("torrent", "torrent must be base64 encoded"))
			return
		}
		if res, ok := h.submit(c, service.AddTorrent(data, req.Options)); ok {
			c.JSON(http.StatusCreated, gin.H{"gid": res.GID})
		}

	case strings.TrimSpace(req.URL) != "":
		if gid, ok := h.addURL(c, strings.TrimSpace(req.URL), req.Options); ok {
			c.JSON(http.StatusCreated, gin.H{"gid": gid})
		}

	case len(req.URLs) > 0:
		opts := req.Options
		opts.GID = ""
		gids := make([]string, 0, len(req.URLs))
		for _, u := range req.URLs {
			gid, ok := h.addURL(c, strings.TrimSpace(u), opts)
			if !ok {
				return
			}
			gids = append(gids, gid)
		}
		c.JSON(http.StatusCreated, gin.H{"gids": gids})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of url, urls, magnet or torrent is required"})
	}
}

// addURL resolves synchronously so a rejected URL is a 400 for this caller
// rather than an error event for everyone.
func (h *Handler) addURL(c *gin.Context, rawURL string, opts domain.DownloadOptions) (string, bool) {
	resolved, err := h.adapter.Resolve(c.Request.Context(), rawURL, opts)
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	cmd := service.AddHTTP(resolved, opts)
	cmd.Resolved = true
	res, ok := h.submit(c, cmd)
	return res.GID, ok
}

type previewRequest struct {
	Magnet  string `json:"magnet"`
	Torrent string `json:"torrent"`
}

func (h *Handler) preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Magnet != "" {
		info, err := adapter.ParseMagnet(req.Magnet)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Torrent)
	if err != nil || len(data) == 0 {
		h.fail(c, domain.InvalidInput("torrent", "torrent must be base64 encoded"))
		return
	}
	info, err := adapter.ParseTorrent(data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) listDownloads(c *gin.Context) {
	switch c.Query("filter") {
	case "active":
		c.JSON(http.StatusOK, h.adapter.Active())
	default:
		c.JSON(http.StatusOK, h.adapter.All())
	}
}

func (h *Handler) getDownload(c *gin.Context) {
	rec, ok := h.adapter.Status(c.Param("gid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) torrentFiles(c *gin.Context) {
	files, ok := h.adapter.TorrentFiles(c.Param("gid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no torrent files for download"})
		return
	}
	c.JSON(http.StatusOK, files)
}

func (h *Handler) peers(c *gin.Context) {
	peers, ok := h.adapter.Peers(c.Param("gid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no peers for download"})
		return
	}
	c.JSON(http.StatusOK, peers)
}

func (h *Handler) pause(c *gin.Context) {
	if _, ok := h.submit(c, service.Pause(c.Param("gid"))); ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) resume(c *gin.Context) {
	if _, ok := h.submit(c, service.Resume(c.Param("gid"))); ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) pauseAll(c *gin.Context) {
	if _, ok := h.submit(c, service.Command{Type: service.CmdPauseAll}); ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) resumeAll(c *gin.Context) {
	if _, ok := h.submit(c, service.Command{Type: service.CmdResumeAll}); ok {
		c.Status(http.StatusNoContent)
	}
}

// removeDownload falls back to the delete_files_on_remove setting when the
// query does not say.
func (h *Handler) removeDownload(c *gin.Context) {
	deleteFiles := h.settings.Load(c.Request.Context()).DeleteFilesOnRemove
	if raw, ok := c.GetQuery("delete_files"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_files"})
			return
		}
		deleteFiles = v
	}
	gid := c.Param("gid")
	if _, ok := h.submit(c, service.Remove(gid, deleteFiles)); ok {
		c.JSON(http.StatusOK, gin.H{"deleted": gid})
	}
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.adapter.GlobalStats())
}

func (h *Handler) listHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	records, err := h.history.Completed(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) clearHistory(c *gin.Context) {
	n, err := h.history.Clear(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Load(c.Request.Context()))
}

// putSettings stores the settings and pushes the derived engine config
// through the bridge.
func (h *Handler) putSettings(c *gin.Context) {
	settings := h.settings.Load(c.Request.Context())
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.Save(c.Request.Context(), settings); err != nil {
		h.fail(c, err)
		return
	}
	cfg := h.settings.EngineConfig(c.Request.Context())
	if _, ok := h.submit(c, service.UpdateConfig(cfg)); ok {
		c.JSON(http.StatusOK, h.settings.Load(c.Request.Context()))
	}
}

func (h *Handler) updateTrackers(c *gin.Context) {
	if h.trackers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracker updates are not configured"})
		return
	}
	list, err := h.trackers.Update(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list)})
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage service not configured"})
		return
	}
	prefix := c.Query("prefix")
	if gid := c.Query("gid"); gid != "" && h.archiver != nil {
		prefix = h.archiver.KeyPrefix(gid)
	}
	objects, err := h.archive.ListObjects(c.Request.Context(), prefix)
	if err != nil {
		h.fail(c, err)
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	c.JSON(http.StatusOK, objects)
}

func (h *Handler) deleteArchive(c *gin.Context) {
	if h.archive == nil || h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage service not configured"})
		return
	}
	remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	prefix := h.archiver.KeyPrefix(c.Param("gid"))
	if err := h.archive.DeletePrefix(remoteCtx, prefix); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": prefix})
}

// submit sends cmd through the bridge and waits for its result. On failure
// the response has already been written.
func (h *Handler) submit(c *gin.Context, cmd service.Command) (service.Result, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	reply := make(chan service.Result, 1)
	cmd.Reply = reply
	if err := h.commands.Submit(ctx, cmd); err != nil {
		h.fail(c, err)
		return service.Result{}, false
	}
	select {
	case res := <-reply:
		if res.Err != nil {
			h.fail(c, res.Err)
			return res, false
		}
		return res, true
	case <-ctx.Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for " + cmd.Type.String()})
		return service.Result{}, false
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(domain.KindOf(err))})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrChannel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
