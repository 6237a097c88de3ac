package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/scenesync/scenesync/lib/cache"
	"github.com/scenesync/scenesync/lib/keylock"
	"github.com/scenesync/scenesync/lib/logging"
	"github.com/scenesync/scenesync/lib/store"
	"github.com/scenesync/scenesync/lib/topics"
	"github.com/scenesync/scenesync/service/bus"
)

// keylockShards bounds worst-case contention between unrelated objects.
const keylockShards = 256

var resyncsTotal = metrics.GetOrCreateCounter(`scenesync_cache_resyncs_total`)

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// Service bridges the object event stream and the document store: it
// subscribes to all scene-object topics in a realm, applies persist
// events to the store, expires objects whose TTL ran out, and answers
// persisted-state queries.
//
// Thread-safety: all exported methods are safe for concurrent use.
// Mutations to a given object are serialized by a keyed mutex, so
// concurrent events for the same object apply one at a time.
type Service struct {
	cfg    Config
	store  store.Store
	cache  *cache.Cache
	bus    bus.Bus
	locks  *keylock.KeyedMutex
	logger zerolog.Logger

	clientID string

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
}

// New assembles a Service around the given store and bus. The store
// and bus are owned by the caller; Run does not close them.
func New(cfg Config, st store.Store, b bus.Bus) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		cache:    cache.New(),
		bus:      b,
		locks:    keylock.New(keylockShards),
		logger:   logging.Component("service"),
		clientID: cfg.MQTTClientID,
	}
}

// Store exposes the underlying document store to the query gateway.
func (s *Service) Store() store.Store { return s.store }

// Bus exposes the message bus to the query gateway.
func (s *Service) Bus() bus.Bus { return s.bus }

// Cache exposes the in-memory persistence cache.
func (s *Service) Cache() *cache.Cache { return s.cache }

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Run connects the service to the bus and blocks until ctx is
// canceled. The initial cache resync must succeed; later resyncs (on
// reconnect and on the periodic timer) are retried rather than fatal.
func (s *Service) Run(ctx context.Context) error {
	if err := s.resync(ctx); err != nil {
		return fmt.Errorf("initial resync: %w", err)
	}

	s.bus.OnConnect(func(reconnect bool) {
		if reconnect {
			s.logger.Info().Msg("reconnected, resyncing persisted state")
			if err := s.resync(ctx); err != nil {
				s.logger.Error().Err(err).Msg("resync after reconnect failed")
				return
			}
		}
		s.startSweeper(ctx)
	})
	s.bus.OnDisconnect(func(err error) {
		s.logger.Warn().Err(err).Msg("bus connection lost")
		s.stopSweeper()
	})

	if err := s.bus.Connect(ctx); err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}

	filter := topics.Subscription(s.cfg.Realm)
	if err := s.bus.Subscribe(filter, s.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	s.logger.Info().Str("filter", filter).Msg("subscribed to scene-object events")

	if s.cfg.StatusTopic != "" {
		msg := []byte("Persistence service connected: " + s.cfg.Realm)
		if err := s.bus.Publish(s.cfg.StatusTopic, msg); err != nil {
			s.logger.Warn().Err(err).Msg("status publish failed")
		}
	}

	if s.cfg.ResyncInterval > 0 {
		go s.resyncLoop(ctx)
	}

	<-ctx.Done()
	s.stopSweeper()
	return nil
}

func (s *Service) resync(ctx context.Context) error {
	if err := s.cache.Resync(ctx, s.store); err != nil {
		return err
	}
	resyncsTotal.Inc()
	s.logger.Info().
		Int("persisted", s.cache.PersistedCount()).
		Int("expirations", s.cache.ExpirationCount()).
		Msg("cache resynced from store")
	return nil
}

// resyncLoop periodically reconciles the cache against the store to
// recover from any drift the event stream did not capture.
func (s *Service) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.resync(ctx); err != nil {
				s.logger.Error().Err(err).Msg("periodic resync failed")
			}
		}
	}
}
