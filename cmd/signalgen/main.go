package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/kafka"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/signalgen"
)

func main() {
	_ = godotenv.Load()

	var (
		cfg    signalgen.Config
		seed   uint64
		target string
		url    string
		token  string
	)
	flag.StringVar(&cfg.Tenant, "tenant", "demo", "Tenant id for generated sessions")
	flag.IntVar(&cfg.Courses, "courses", 3, "Number of distinct courses")
	flag.IntVar(&cfg.Learners, "learners", 20, "Number of learners to simulate")
	flag.IntVar(&cfg.Events, "events", 30, "Signals per learner")
	flag.IntVar(&cfg.Concurrency, "concurrency", 5, "Learners simulated in parallel")
	flag.Float64Var(&cfg.StruggleRate, "struggle-rate", 0.2, "Fraction of learners that struggle (0.0 - 1.0)")
	flag.DurationVar(&cfg.Interval, "interval", 0, "Delay between a learner's signals; 0 backfills with past timestamps")
	flag.Uint64Var(&seed, "seed", 123, "Random seed")
	flag.StringVar(&target, "target", "http", "Delivery target: http or kafka")
	flag.StringVar(&url, "url", envutil.String("STRUGGLE_API_URL", "http://localhost:8080/api/struggle/signals"), "Signal endpoint for the http target")
	flag.StringVar(&token, "token", envutil.String("STRUGGLE_API_TOKEN", ""), "Bearer token for the http target")
	flag.Parse()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.StruggleRate < 0 || cfg.StruggleRate > 1 {
		log.Fatal("struggle-rate must be between 0.0 and 1.0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink signalgen.Sink
	switch target {
	case "http":
		sink = signalgen.NewHTTPSink(url, token)
	case "kafka":
		kcfg := kafka.LoadConfigFromEnv()
		if !kcfg.Enabled() {
			log.Fatal("KAFKA_BROKERS is required for the kafka target")
		}
		client, err := kafka.NewProducerClient(kcfg)
		if err != nil {
			log.Fatal("kafka producer", "error", err)
		}
		defer client.Close()
		sink = signalgen.StreamSink{Publisher: kafka.NewSignalProducer(client, kcfg.SignalsTopic)}
	default:
		log.Fatal("unknown target", "target", target)
	}

	start := time.Now()
	rep, err := signalgen.New(cfg, seed).Run(ctx, sink)
	log.Info("signal generation finished",
		"sent", rep.Sent,
		"failed", rep.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
}
