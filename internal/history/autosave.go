package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/store"
)

// Hash fingerprints document content for change detection and
// auto-save deduplication.
func Hash(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:8])
}

type Config struct {
	Interval time.Duration
	Keep     int
}

func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Minute,
		Keep:     20,
	}
}

// Service periodically snapshots rooms whose text changed since their
// latest history entry, and prunes old auto-saved entries.
type Service struct {
	documents store.DocumentStore
	history   store.HistoryStore
	config    Config
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewService(documents store.DocumentStore, history store.HistoryStore, config Config) *Service {
	return &Service{
		documents: documents,
		history:   history,
		config:    config,
		stop:      make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	logrus.WithFields(logrus.Fields{
		"interval": s.config.Interval,
		"keep":     s.config.Keep,
	}).Info("autosave service started")
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	logrus.Info("autosave service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.snapshotAll(context.Background())
		}
	}
}

func (s *Service) snapshotAll(ctx context.Context) {
	rooms, err := s.documents.List(ctx, 1000, 0)
	if err != nil {
		logrus.WithField("error", err).Warn("autosave: failed to list rooms")
		return
	}

	saved := 0
	for _, room := range rooms {
		changed, err := s.snapshotRoom(ctx, room)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id": room.ID,
				"error":   err,
			}).Warn("autosave: snapshot failed")
			continue
		}
		if changed {
			saved++
		}
	}

	if saved > 0 {
		logrus.WithField("rooms", saved).Info("autosave: snapshots written")
	}
}

// snapshotRoom writes an auto entry when the room's content differs
// from its latest history entry. Reports whether an entry was written.
func (s *Service) snapshotRoom(ctx context.Context, room store.Room) (bool, error) {
	latest, err := s.history.LatestHistory(ctx, room.ID)
	if err != nil {
		return false, err
	}

	hash := Hash(room.Code)
	if latest != nil && latest.CodeHash == hash {
		return false, nil
	}

	label := fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
	if _, err := s.history.AddHistory(ctx, room.ID, label, room.Code, hash, true); err != nil {
		return false, err
	}

	if err := s.history.PruneAutoHistory(ctx, room.ID, s.config.Keep); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": room.ID,
			"error":   err,
		}).Warn("autosave: prune failed")
	}
	return true, nil
}

// SnapshotNow runs one snapshot pass immediately.
func (s *Service) SnapshotNow(ctx context.Context) {
	s.snapshotAll(ctx)
}
