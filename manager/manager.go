// Package manager wires the ledger state store, the subscription hub and the
// gRPC services into one daemon with an explicit lifecycle.
package manager

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/journal"
	"github.com/ledgerkit/ledgerkit/manager/ledgerapi"
	"github.com/ledgerkit/ledgerkit/manager/queryapi"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/ledgerkit/ledgerkit/manager/subscription"
	"github.com/ledgerkit/ledgerkit/xnet"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

const journalFile = "journal.db"

// Manager is the high-level object holding and initializing the store, the
// subscription hub and the API servers.
type Manager struct {
	config *Config

	store   *store.MemoryStore
	journal *journal.Journal
	hub     *subscription.Hub
	schemas *schema.Registry
	query   *queryapi.Service
	server  *grpc.Server
	metrics *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  chan struct{}
	stopped  bool
}

// New creates a Manager which has not started to accept requests yet. If a
// state directory is configured the journal in it is replayed first.
func New(config *Config) (*Manager, error) {
	m := &Manager{
		config:  config,
		started: make(chan struct{}),
	}

	var committer store.Committer
	if config.StateDir != "" {
		if err := os.MkdirAll(config.StateDir, 0700); err != nil {
			return nil, errors.Wrap(err, "failed to create state directory")
		}
		j, err := journal.Open(filepath.Join(config.StateDir, journalFile))
		if err != nil {
			return nil, err
		}
		m.journal = j
		committer = j
	}

	m.store = store.NewMemoryStore(committer)
	if m.journal != nil {
		if err := m.journal.Replay(context.Background(), m.store); err != nil {
			m.store.Close()
			m.journal.Close()
			return nil, errors.Wrap(err, "failed to replay journal")
		}
	}

	m.hub = subscription.NewHub(m.store, config.hubConfig())
	m.schemas = config.Schemas
	if m.schemas == nil {
		m.schemas = schema.NewRegistry(schema.JSON)
	}
	m.query = queryapi.NewService(m.store, m.hub, m.schemas)

	m.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, unaryCallerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor, streamCallerInterceptor),
	)
	api.RegisterQueryServer(m.server, queryapi.NewServer(m.query))
	api.RegisterLedgerServer(m.server, ledgerapi.NewServer(m.store))
	grpc_prometheus.Register(m.server)

	return m, nil
}

// Store returns the manager's store.
func (m *Manager) Store() *store.MemoryStore {
	return m.store
}

// Schemas returns the registry used to decode payloads in filter
// expressions. Mappers registered on it apply to every later query.
func (m *Manager) Schemas() *schema.Registry {
	return m.schemas
}

// Query returns the query facade for in-process callers.
func (m *Manager) Query() *queryapi.Service {
	return m.query
}

// Addr returns the address the gRPC server listens on. It blocks until Run
// has bound its listener.
func (m *Manager) Addr() net.Addr {
	<-m.started
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Run starts the metrics endpoint and the gRPC server at the configured
// address. The call never returns unless an error occurs or `Stop()` is
// called.
func (m *Manager) Run(ctx context.Context) error {
	lis := m.config.Listener
	if lis == nil {
		l, err := xnet.Listen(m.config.ListenAddr)
		if err != nil {
			close(m.started)
			return err
		}
		lis = l
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		close(m.started)
		lis.Close()
		return errors.New("manager stopped")
	}
	m.listener = lis
	if m.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		m.metrics = &http.Server{Addr: m.config.MetricsAddr, Handler: mux}
	}
	m.mu.Unlock()
	close(m.started)

	if m.metrics != nil {
		go func() {
			if err := m.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.G(ctx).WithError(err).Error("metrics server exited with an error")
			}
		}()
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(
		logrus.Fields{
			"proto": lis.Addr().Network(),
			"addr":  lis.Addr().String()}))
	log.G(ctx).WithField("cursor", m.store.Cursor()).Info("listening")

	err := m.server.Serve(lis)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

// Stop stops the manager. Subscriptions are cancelled first so that their
// streams end, then the server, the store and the journal are shut down.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	metricsServer := m.metrics
	m.mu.Unlock()

	m.hub.Close()
	m.server.Stop()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}
	m.store.Close()
	if m.journal != nil {
		if err := m.journal.Close(); err != nil {
			log.L.WithError(err).Error("failed to close journal")
		}
	}
}
