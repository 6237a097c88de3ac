package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/topics"
)

// --------------------------------------------------------------------------
// TTL sweeper
// --------------------------------------------------------------------------

// startSweeper launches the expiry loop. It only runs while the bus is
// connected, so expiry announcements are never silently lost; a
// restart after reconnect picks the backlog up from the expiration
// index. Calling it while a sweeper already runs restarts it.
func (s *Service) startSweeper(parent context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.sweepCancel = cancel
	go s.sweepLoop(ctx)
	s.logger.Debug().Dur("interval", s.cfg.SweepInterval).Msg("ttl sweeper started")
}

func (s *Service) stopSweeper() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepCancel = nil
		s.logger.Debug().Msg("ttl sweeper stopped")
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx, time.Now().UTC())
		}
	}
}

// sweepExpired evicts every object whose expiry has passed and
// announces each eviction as a delete event so live consumers drop the
// object too. The cache entries go first: the announcement loops back
// through our own subscription, and by then the persisted gate must
// already reject it.
func (s *Service) sweepExpired(ctx context.Context, now time.Time) {
	for _, obj := range s.cache.Due(now) {
		k := obj.Key()

		unlock := s.locks.Lock(k.String())
		s.cache.ClearExpiration(k)
		s.cache.ObserveDelete(k)
		if err := s.store.DeleteObject(ctx, k); err != nil {
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Str("key", k.String()).Msg("ttl eviction delete failed")
		}
		if removed, err := s.store.DeleteChildren(ctx, k.Namespace, k.SceneID, k.ObjectID); err != nil {
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Str("key", k.String()).Msg("ttl eviction cascade failed")
		} else {
			s.forgetKeys(removed)
		}
		unlock()

		ttlEvictionsTotal.Inc()
		s.announceEviction(obj)
	}
}

func (s *Service) announceEviction(obj model.SceneObject) {
	env := model.Envelope{
		ObjectID: obj.ObjectID,
		Action:   model.ActionDelete,
	}
	payload, err := json.Marshal(&env)
	if err != nil {
		s.logger.Error().Err(err).Msg("eviction envelope marshal failed")
		return
	}

	realm := obj.Realm
	if realm == "" {
		realm = s.cfg.Realm
	}
	topic := topics.SceneObjects(realm, obj.Namespace, obj.SceneID, s.clientID, obj.ObjectID)
	if err := s.bus.Publish(topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("eviction announcement publish failed")
	}
}
