// Package emulator serves a local, SQLite-backed rendition of the hosted
// vector index API: the control plane under /databases and /collections,
// and each index's data plane under /data/<index>. Search is brute force.
package emulator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// DefaultMaxPods is the pod quota when Config.MaxPods is zero.
const DefaultMaxPods = 10

// Config tunes the emulator's behaviour.
type Config struct {
	// APIKey, when set, must be presented in the Api-Key header.
	APIKey string
	// ProjectName is reported by whoami.
	ProjectName string
	// ReadyAfter keeps created, scaled and deleted indexes in their
	// transient state for this long. Zero makes transitions immediate.
	ReadyAfter time.Duration
	MaxPods    int
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Server is an http.Handler for both planes.
type Server struct {
	store  *Store
	cfg    Config
	engine *gin.Engine

	// serializes store access so state transitions are observed atomically
	mu sync.Mutex
}

func NewServer(store *Store, cfg Config) *Server {
	if cfg.MaxPods <= 0 {
		cfg.MaxPods = DefaultMaxPods
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "emulator"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	s := &Server{store: store, cfg: cfg, engine: engine}

	engine.Use(gin.Recovery(), s.logRequest, s.requireAPIKey)
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, errorf(http.StatusNotFound, "no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})
	engine.NoMethod(func(c *gin.Context) {
		writeError(c, errorf(http.StatusMethodNotAllowed, "method %s not allowed", c.Request.Method))
	})

	engine.GET("/databases", s.handleListIndexes)
	engine.POST("/databases", s.handleCreateIndex)
	engine.GET("/databases/:name", s.handleDescribeIndex)
	engine.PATCH("/databases/:name", s.handleConfigureIndex)
	engine.DELETE("/databases/:name", s.handleDeleteIndex)

	engine.GET("/collections", s.handleListCollections)
	engine.POST("/collections", s.handleCreateCollection)
	engine.GET("/collections/:name", s.handleDescribeCollection)
	engine.DELETE("/collections/:name", s.handleDeleteCollection)

	engine.GET("/actions/whoami", s.handleWhoAmI)

	data := engine.Group("/data/:index")
	data.POST("/vectors/upsert", s.handleUpsert)
	data.GET("/vectors/fetch", s.handleFetch)
	data.POST("/query", s.handleQuery)
	data.POST("/vectors/delete", s.handleDelete)
	data.POST("/vectors/update", s.handleUpdate)
	data.POST("/describe_index_stats", s.handleStats)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.cfg.Logger.Debug("emulator: request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
		"request_id", c.GetHeader("X-Request-Id"))
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.cfg.APIKey != "" && c.GetHeader("Api-Key") != s.cfg.APIKey {
		writeError(c, errorf(http.StatusUnauthorized, "invalid api key"))
		c.Abort()
		return
	}
	c.Next()
}

// lock serializes a request and settles due state transitions first.
func (s *Server) lock(c *gin.Context) (func(), error) {
	s.mu.Lock()
	if err := s.store.settle(c.Request.Context(), s.cfg.Now()); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return s.mu.Unlock, nil
}

func writeError(c *gin.Context, err error) {
	var ae *apiError
	if !errors.As(err, &ae) {
		slog.Error("emulator: internal error", "error", err)
		ae = &apiError{status: http.StatusInternalServerError, msg: err.Error()}
	}
	c.JSON(ae.status, gin.H{"code": ae.status, "message": ae.msg})
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(c *gin.Context, v any) error {
	err := json.NewDecoder(c.Request.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errorf(http.StatusBadRequest, "malformed request body: %v", err)
	}
	return nil
}

func dataHost(c *gin.Context, index string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/data/" + index
}

func (s *Server) handleListIndexes(c *gin.Context) {
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	names, err := s.store.listIndexes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleCreateIndex(c *gin.Context) {
	var req vectorstore.CreateIndexRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	if err := s.store.createIndex(c.Request.Context(), req, s.cfg.Now(), s.cfg.ReadyAfter, s.cfg.MaxPods); err != nil {
		writeError(c, err)
		return
	}
	s.cfg.Logger.Info("emulator: index created", "index", req.Name, "dimension", req.Dimension)
	c.Status(http.StatusCreated)
}

func (s *Server) handleDescribeIndex(c *gin.Context) {
	name := c.Param("name")
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.store.index(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vectorstore.IndexDescription{
		Database: row.spec,
		Status: vectorstore.IndexStatus{
			Ready: row.state == vectorstore.StateReady,
			State: row.state,
			Host:  dataHost(c, name),
		},
	})
}

func (s *Server) handleConfigureIndex(c *gin.Context) {
	var req vectorstore.ConfigureIndexRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	if err := s.store.configureIndex(c.Request.Context(), c.Param("name"), req, s.cfg.Now(), s.cfg.ReadyAfter, s.cfg.MaxPods); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDeleteIndex(c *gin.Context) {
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	if err := s.store.deleteIndex(c.Request.Context(), c.Param("name"), s.cfg.Now(), s.cfg.ReadyAfter); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleListCollections(c *gin.Context) {
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	names, err := s.store.listCollections(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleCreateCollection(c *gin.Context) {
	var req vectorstore.CreateCollectionRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	if err := s.store.createCollection(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) handleDescribeCollection(c *gin.Context) {
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	col, err := s.store.collection(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

func (s *Server) handleDeleteCollection(c *gin.Context) {
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	if err := s.store.deleteCollection(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleWhoAmI(c *gin.Context) {
	c.JSON(http.StatusOK, vectorstore.WhoAmI{
		ProjectName: s.cfg.ProjectName,
		UserLabel:   "default",
		UserName:    "emulator",
	})
}
