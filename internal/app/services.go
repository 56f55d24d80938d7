package app

import (
	"context"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/lifecycle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/signals"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/tuning"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/kafka"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
	"github.com/yungbote/neurobridge-struggle/internal/realtime/bus"
	"github.com/yungbote/neurobridge-struggle/internal/services"
)

type Services struct {
	Store     *sessionstore.Store
	Lifecycle *lifecycle.Manager
	Scheduler *lifecycle.Scheduler
	Hub       *realtime.Hub
	Bus       bus.Bus
	Struggle  services.StruggleService
	Consumer  *kafka.SignalConsumer
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, storage Storage, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	t := tuning.Load(log)
	var archiver sessionstore.Archiver
	if storage.Archive.Len() > 0 {
		archiver = storage.Archive
	}
	var observer sessionstore.Observer
	if metrics != nil {
		observer = metrics
	}
	s.Store = sessionstore.New(cfg.Store, t, sessionstore.Deps{
		KV:       storage.KV,
		Archiver: archiver,
		Observer: observer,
		Log:      log,
	})
	s.Lifecycle = lifecycle.NewManager(cfg.Lifecycle, s.Store, storage.KV, log, nil)
	s.Scheduler = lifecycle.NewScheduler(s.Lifecycle)

	s.Hub = realtime.NewHub(log)
	s.Hub.OnClientCount(metrics.RealtimeClients)
	var emitter services.Emitter = &services.HubEmitter{Hub: s.Hub}
	if clients.Redis != nil {
		b, err := bus.NewRedisBus(log, clients.Redis, cfg.Redis.Channel)
		if err != nil {
			return s, err
		}
		s.Bus = b
		emitter = &services.BusEmitter{Bus: b, Log: log}
	}

	var alerts services.AlertPublisher
	if clients.KafkaProducer != nil {
		alerts = kafka.NewAlertProducer(clients.KafkaProducer, cfg.Kafka.AlertsTopic)
	}

	s.Struggle = services.NewStruggleService(services.StruggleDeps{
		Store:     s.Store,
		Validator: signals.NewValidator(cfg.Signals),
		Notifier:  services.NewStruggleNotifier(emitter),
		Alerts:    alerts,
		Metrics:   metrics,
		Log:       log,
	})

	if clients.KafkaConsumer != nil {
		svc := s.Struggle
		s.Consumer = kafka.NewSignalConsumer(clients.KafkaConsumer, func(ctx context.Context, ev struggle.SignalEvent) error {
			_, err := svc.IngestSignal(ctx, ev, services.SourceKafka)
			return err
		}, log)
	}
	return s, nil
}
