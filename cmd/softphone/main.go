// softphone консольный клиент: звонки один на один через сигнальный ретранслятор.
//
// Конфигурация читается из окружения (USER_ID, SIGNALING_URL, ICE_SERVERS, CALL_*),
// команды вводятся в консоли, help выводит их список.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/call_engine/pkg/call"
	"github.com/arzzra/call_engine/pkg/config"
	"github.com/arzzra/call_engine/pkg/logger"
	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/pionrtc"
	"github.com/arzzra/call_engine/pkg/ringtone"
	"github.com/arzzra/call_engine/pkg/signaling"
	"github.com/arzzra/call_engine/pkg/streams"
)

func main() {
	cfg, err := config.LoadSoftphone()
	if err != nil {
		os.Stderr.WriteString("softphone: " + err.Error() + "\n")
		os.Exit(2)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("softphone: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("softphone stopped", zap.Error(err))
	}
}

func run(cfg config.Softphone, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	platform, err := pionrtc.NewPlatform(cfg.Platform, log)
	if err != nil {
		return errors.Wrap(err, "create media platform")
	}
	registry := streams.NewRegistry(log)
	devices := media.NewController(platform, media.Options{Logger: log, Registerer: reg})

	peerCfg := peer.DefaultConfig()
	peerCfg.ICEServers = cfg.ICEServers
	peers, err := peer.NewManager(platform, registry, peerCfg, peer.Options{Logger: log, Registerer: reg})
	if err != nil {
		return err
	}

	sink, closeSink := newSink(cfg.Ringtone, log)
	defer closeSink()
	ringer := ringtone.NewPlayer(sink, ringtone.Options{Logger: log, Registerer: reg})

	transport, err := signaling.NewManager(&signaling.WSDialer{
		URL:     cfg.SignalingURL,
		Options: signaling.WSOptions{Logger: log},
	}, cfg.Signaling, signaling.Options{Logger: log, Registerer: reg})
	if err != nil {
		return err
	}
	defer transport.Disconnect()

	engine, err := call.New(cfg.Call, call.Deps{
		Transport:  transport,
		Devices:    devices,
		Peers:      peers,
		Streams:    registry,
		Ringer:     ringer,
		Logger:     log,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = transport.Connect(connectCtx, cfg.Credential)
	cancel()
	if err != nil {
		return errors.Wrap(err, "connect to signaling relay")
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	c := newConsole(engine, cfg.UserID, os.Stdin, os.Stdout)
	g.Go(func() error {
		return c.run(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}
