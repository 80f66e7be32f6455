// This file is to handle things such as metrics/health/topology, etc

package webapi

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/shardlab/shardctl/orchestrator"
)

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	httpServer    *http.Server

	healthy atomic.Bool
	cluster atomic.Pointer[orchestrator.Cluster]
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
	}
}

// SetCluster publishes the cluster served by /topology and /nodes.
func (w *WebServer) SetCluster(c *orchestrator.Cluster) {
	w.cluster.Store(c)
}

func (w *WebServer) MarkHealthy(healthy bool) {
	w.healthy.Store(healthy)
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the shardctl internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if !w.healthy.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	rw.WriteHeader(http.StatusOK)
}

func (w *WebServer) writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	c := w.cluster.Load()
	if c == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	w.writeJSON(rw, c.Topology())
}

type nodeStatusJson struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Address string `json:"address"`
	State   string `json:"state"`
	Pid     int    `json:"pid,omitempty"`
}

func (w *WebServer) handleNodes(rw http.ResponseWriter, r *http.Request) {
	c := w.cluster.Load()
	if c == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	nodes := make([]nodeStatusJson, 0, len(c.Nodes()))
	for _, node := range c.Nodes() {
		spec := node.Spec()
		nodes = append(nodes, nodeStatusJson{
			Name:    spec.Name(),
			Role:    string(spec.Role),
			Address: spec.Address(),
			State:   node.State().String(),
			Pid:     node.Pid(),
		})
	}

	w.writeJSON(rw, nodes)
}

func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/topology", w.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/nodes", w.handleNodes).Methods(http.MethodGet)
	if w.logLevel != nil {
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	r.HandleFunc("/", w.handleRoot)

	return otelhttp.NewHandler(cors.Default().Handler(r), "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

// InitializeWebServer starts the process-wide web server once and returns
// it.  Later calls return the running server.
func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return globalWebServer
	}

	globalWebServer = NewWebServer(opts)
	server := globalWebServer
	globalWebLock.Unlock()
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			server.logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()

	return server
}
