// This file is to handle things such as metrics/health/node listings, etc

package webapi

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stellarkv/stellar-client/cluster"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ClusterState is the part of a cluster the web api reports on.
type ClusterState interface {
	GetNodes() []*cluster.Node
	PartitionMap() *cluster.PartitionMap
	IsConnected() bool
	TendCount() int64
}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Cluster       ClusterState

	// TLSConfig switches the listener to https.
	TLSConfig *tls.Config
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	cluster       ClusterState
	tlsConfig     *tls.Config
	httpServer    *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	return &WebServer{
		logger:        opts.Logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		cluster:       opts.Cluster,
		tlsConfig:     opts.TLSConfig,
	}
}

type nodeJson struct {
	Name                string         `json:"name"`
	Address             string         `json:"address"`
	Aliases             []string       `json:"aliases,omitempty"`
	Active              bool           `json:"active"`
	Health              int            `json:"health"`
	Failures            int            `json:"failures"`
	PeersCount          int            `json:"peersCount"`
	PartitionGeneration int64          `json:"partitionGeneration"`
	PeersGeneration     int64          `json:"peersGeneration"`
	Connections         int            `json:"connections"`
	IdleConnections     int            `json:"idleConnections"`
	Partitions          map[string]int `json:"partitions,omitempty"`
}

type healthJson struct {
	Connected bool  `json:"connected"`
	Nodes     int   `json:"nodes"`
	TendCount int64 `json:"tendCount"`
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the stellar tend internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) writeJson(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	resp := healthJson{
		Connected: w.cluster.IsConnected(),
		Nodes:     len(w.cluster.GetNodes()),
		TendCount: w.cluster.TendCount(),
	}

	status := http.StatusOK
	if !resp.Connected {
		status = http.StatusServiceUnavailable
	}
	w.writeJson(rw, status, resp)
}

func (w *WebServer) handleNodes(rw http.ResponseWriter, r *http.Request) {
	pmap := w.cluster.PartitionMap()
	namespaces := pmap.Namespaces()

	nodes := []nodeJson{}
	for _, node := range w.cluster.GetNodes() {
		nodes = append(nodes, w.describeNode(node, pmap, namespaces))
	}

	w.writeJson(rw, http.StatusOK, nodes)
}

func (w *WebServer) handleNode(rw http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	pmap := w.cluster.PartitionMap()
	for _, node := range w.cluster.GetNodes() {
		if node.Name() == name {
			w.writeJson(rw, http.StatusOK, w.describeNode(node, pmap, pmap.Namespaces()))
			return
		}
	}

	http.Error(rw, "node not found", http.StatusNotFound)
}

func (w *WebServer) describeNode(node *cluster.Node, pmap *cluster.PartitionMap, namespaces []string) nodeJson {
	out := nodeJson{
		Name:                node.Name(),
		Address:             node.Host().String(),
		Active:              node.IsActive(),
		Health:              node.Health(),
		Failures:            node.Failures(),
		PeersCount:          node.PeersCount(),
		PartitionGeneration: node.PartitionGeneration(),
		PeersGeneration:     node.PeersGeneration(),
		Connections:         node.ConnectionPool().Total(),
		IdleConnections:     node.ConnectionPool().Idle(),
	}

	for _, alias := range node.Aliases() {
		out.Aliases = append(out.Aliases, alias.String())
	}

	for _, ns := range namespaces {
		count := pmap.PartitionCountForNode(ns, node)
		if count == 0 {
			continue
		}
		if out.Partitions == nil {
			out.Partitions = make(map[string]int)
		}
		out.Partitions[ns] = count
	}

	return out
}

// Handler builds the routed handler without starting a listener.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	if w.logLevel != nil {
		// zap serves GET and PUT of {"level":"debug"}
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	if w.cluster != nil {
		r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
		r.HandleFunc("/nodes", w.handleNodes).Methods(http.MethodGet)
		r.HandleFunc("/nodes/{name}", w.handleNode).Methods(http.MethodGet)
	}
	r.HandleFunc("/", w.handleRoot)

	return otelhttp.NewHandler(r, "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		TLSConfig:    w.tlsConfig,
	}

	if w.tlsConfig != nil {
		// certificates come from TLSConfig
		return w.httpServer.ListenAndServeTLS("", "")
	}
	return w.httpServer.ListenAndServe()
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return
	}

	globalWebServer = NewWebServer(opts)
	globalWebLock.Unlock()
	go func() {
		err := globalWebServer.ListenAndServe()
		if err != nil {
			opts.Logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()
}
