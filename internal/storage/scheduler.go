package storage

import (
	"charsync/internal/providers"
	"charsync/internal/structures"
	"github.com/roylee0704/gron"
	"sync"
	"time"
)

const defaultSaveInterval = 30 * time.Second

type SchedulerInterface interface {
	Init()
	Stop()
	Restore() error
	Persist() error
}

// Scheduler periodically writes the memory store to its file.
type Scheduler struct {
	config      *structures.Config
	logger      providers.Logger
	metrics     providers.MetricsProviderInterface
	fileManager *FileManager
	cron        *gron.Cron
	opsMu       sync.Mutex
}

func (s *Scheduler) Init() {
	s.cron = gron.New()
	interval := s.config.Storage.SaveInterval
	if interval <= 0 {
		interval = defaultSaveInterval
	}

	s.cron.AddFunc(gron.Every(interval), func() {
		if err := s.Persist(); err != nil {
			return
		}
		s.logger.Debugf(providers.TypeApp, "Persisted characters to file %s", s.config.Storage.FilePath)
	})

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) Restore() error {
	return s.fileManager.LoadFromFile(s.config.Storage.FilePath)
}

func (s *Scheduler) Persist() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	start := time.Now()
	err := s.fileManager.SaveToFile(s.config.Storage.FilePath)
	s.metrics.ObservePersistenceDuration(time.Since(start))
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while persisting data: %s", err)
		return err
	}
	return nil
}

func NewScheduler(config *structures.Config, logger providers.Logger, fileManager *FileManager, metrics providers.MetricsProviderInterface) SchedulerInterface {
	return &Scheduler{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		fileManager: fileManager,
	}
}

// noopScheduler is used by stores that persist on every write.
type noopScheduler struct{}

func (n *noopScheduler) Init()          {}
func (n *noopScheduler) Stop()          {}
func (n *noopScheduler) Restore() error { return nil }
func (n *noopScheduler) Persist() error { return nil }
