package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
	"go.uber.org/zap"
)

const (
	// readTimeout is the maximum duration for reading the entire
	// request, including the body.
	readTimeout = 30 * time.Second

	// writeTimeout is the maximum duration before timing out
	// writes of the response.
	writeTimeout = 5 * time.Minute

	// idleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	idleTimeout = 5 * time.Minute
)

// heightSource reports the node's best height.
type heightSource interface {
	GetBlockCount(ctx context.Context) (int64, error)
}

// Server answers read-only queries over the cluster store.
type Server struct {
	conf   *config.ServerConfig
	logger *zap.Logger
	db     *db.DB
	node   heightSource
	engine *gin.Engine
	hs     *http.Server
}

func NewServer(conf *config.ServerConfig, logger *zap.Logger, db *db.DB, node heightSource) *Server {
	s := &Server{
		conf:   conf,
		logger: logger,
		db:     db,
		node:   node,
	}

	s.initGin()
	return s
}

func (s *Server) initGin() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(pkg.LogMiddleware(s.logger), pkg.CORSMiddleware(), gin.Recovery())

	engine.POST("height", s.heightHandle())
	engine.POST("address_cluster", s.addressClusterHandle())
	engine.POST("cluster_balance", s.clusterBalanceHandle())
	engine.POST("cluster_transactions", s.clusterTransactionsHandle())
	engine.POST("cluster_addresses", s.clusterAddressesHandle())
	engine.POST("top_clusters", s.topClustersHandle())
	engine.GET("metrics", gin.WrapH(promhttp.Handler()))
	s.engine = engine
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.hs = hs

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("listen", zap.Error(err))
		}
	}()
	s.logger.Info("listen", zap.String("addr", addr))
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Shutdown(ctx)
}
