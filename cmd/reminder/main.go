package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/momentum/internal/config"
	"example.com/momentum/internal/logging"
	"example.com/momentum/internal/notify"
	"example.com/momentum/internal/platform"
	"example.com/momentum/internal/reminder"
	httptransport "example.com/momentum/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Fatal("invalid reference timezone")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer res.Close()

	channel, closeChannel, err := newChannel(ctx, cfg, res, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to configure notifications")
	}
	defer closeChannel()

	opts := []reminder.Option{
		reminder.WithConcurrency(cfg.ReminderConcurrency),
		reminder.WithSendTimeout(cfg.ReminderSendTimeout),
		reminder.WithLogger(logger.WithField("component", "reminder")),
	}
	if cfg.ReminderSkipRanToday {
		opts = append(opts, reminder.WithSkipRanToday(loc))
	}
	job := reminder.NewJob(res.Store, channel, opts...)

	if cfg.ReminderRunOnce {
		summary, err := job.Run(ctx)
		if err != nil {
			logger.WithError(err).Error("reminder run failed")
			res.Close()
			os.Exit(1)
		}
		logger.WithFields(logrus.Fields{
			"sent":    summary.Sent,
			"failed":  summary.Failed,
			"skipped": summary.Skipped,
		}).Info("reminder run finished")
		return
	}

	scheduler, err := reminder.NewScheduler(job, cfg.ReminderSchedule, loc, logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid reminder schedule")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, mux)
	serveErr := httptransport.Serve(metricsServer, logger)

	scheduler.Start()

	select {
	case <-ctx.Done():
	case <-serveErr:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stopCancel()
	scheduler.Stop(stopCtx)

	if err := httptransport.Shutdown(metricsServer, 5*time.Second); err != nil {
		logger.WithError(err).Warn("metrics server shutdown failed")
	}
}

// newChannel builds the delivery channel for cfg.NotifyBackend. The returned func releases
// any writer the channel holds.
func newChannel(ctx context.Context, cfg config.Config, res *platform.Resources, logger logrus.FieldLogger) (notify.Channel, func(), error) {
	noop := func() {}

	switch cfg.NotifyBackend {
	case config.NotifyFirebase:
		client, err := res.Firebase.Messaging(ctx)
		if err != nil {
			return nil, noop, err
		}
		router := notify.Router{Push: notify.NewFCMChannel(client)}
		if cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" {
			router.Email = notify.NewMailgunChannel(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
		}
		return router, noop, nil
	case config.NotifyKafka:
		channel, writer := notify.NewKafkaChannel(cfg.KafkaBrokers, cfg.ReminderTopic)
		return channel, func() {
			if err := writer.Close(); err != nil {
				logger.WithError(err).Warn("closing reminder writer")
			}
		}, nil
	default:
		return notify.LogChannel{Log: logger.WithField("component", "notify")}, noop, nil
	}
}
