//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/pkg/sys/reaper"
	"github.com/containerd/log"
	"github.com/containerd/otelttrpc"
	"github.com/containerd/ttrpc"
	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"

	"github.com/aledbf/boxlite/guest/internal/guest/config"
	"github.com/aledbf/boxlite/guest/internal/guest/service"
	"github.com/aledbf/boxlite/guest/internal/guest/system"
	"github.com/aledbf/boxlite/guest/internal/guest/systools"
)

func main() {
	cfg, setFlags, configFile, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrVersionRequested) {
			return
		}
		log.L.WithError(err).Fatal("failed to parse flags")
	}

	// Load configuration file if provided
	if configFile != "" {
		if err := config.LoadFromFile(configFile, cfg, setFlags); err != nil {
			log.L.WithError(err).Fatalf("failed to load config from %s", configFile)
		}
	}

	if cfg.Debug {
		log.SetLevel("debug")
	} else {
		// Prefer verbose logging in the minimal VM to ease debugging boot/mount issues.
		log.SetLevel("info")
	}

	ctx := context.Background()

	log.G(ctx).WithField("args", os.Args[1:]).Debug("starting boxinitd")

	defer func() {
		if p := recover(); p != nil {
			log.G(ctx).WithField("panic", p).Error("recovered from panic")
		}

		// Trigger VM shutdown via reboot syscall so the VMM exits cleanly
		log.G(ctx).Info("powering off VM")
		if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
			log.G(ctx).WithError(err).Error("failed to power off VM")
		}
	}()

	if err := run(ctx, cfg); err != nil {
		log.G(ctx).WithError(err).Error("exiting with error")
	}
}

func run(ctx context.Context, cfg *config.ServiceConfig) error {
	t1 := time.Now()

	ctx, cfg.Shutdown = shutdown.WithShutdown(ctx)

	// Filesystem preparation must finish before the readiness RPC starts
	// accepting requests.
	if err := system.Initialize(ctx); err != nil {
		return err
	}

	if cfg.Debug {
		systools.DumpInfo(ctx)
	}

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}

	log.G(ctx).WithField("t", time.Since(t1)).Debug("initialized boxinitd")

	// The guest has few vCPUs; cap GOMAXPROCS to avoid scheduler overhead.
	runtime.GOMAXPROCS(2)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run(ctx)
	}()

	s := make(chan os.Signal, 1)
	signal.Notify(s, unix.SIGKILL, unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT, unix.SIGCHLD)
	for {
		select {
		case <-cfg.Shutdown.Done():
			if err := cfg.Shutdown.Err(); err != nil && !errors.Is(err, shutdown.ErrShutdown) {
				log.G(ctx).WithError(err).Error("shutdown error")
			}
			return nil
		case err := <-serveErr:
			log.G(ctx).WithError(err).Error("readiness service exited")
			return err
		case sig := <-s:
			switch sig {
			case unix.SIGCHLD:
				if err := reaper.Reap(); err != nil {
					log.G(ctx).WithError(err).Error("failed to reap child process")
				}
			case unix.SIGKILL, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT:
				cfg.Shutdown.Shutdown()
				log.G(ctx).WithField("signal", sig).Info("received shutdown signal")
			default:
				log.G(ctx).WithField("signal", sig).Debug("received unhandled signal")
			}
		}
	}
}

type server struct {
	l      net.Listener
	server *ttrpc.Server
}

func newServer(ctx context.Context, cfg *config.ServiceConfig) (*server, error) {
	l, err := vsock.ListenContextID(uint32(cfg.VSockContextID), uint32(cfg.RPCPort), &vsock.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on vsock port %d with context id %d: %w", cfg.RPCPort, cfg.VSockContextID, err)
	}
	log.G(ctx).WithFields(log.Fields{
		"cid":  cfg.VSockContextID,
		"port": cfg.RPCPort,
	}).Info("listening on vsock for readiness checks")
	cfg.Shutdown.RegisterCallback(func(ctx context.Context) error {
		return l.Close()
	})

	ts, err := ttrpc.NewServer(
		ttrpc.WithUnaryServerInterceptor(otelttrpc.UnaryServerInterceptor()),
	)
	if err != nil {
		return nil, err
	}
	cfg.Shutdown.RegisterCallback(ts.Shutdown)

	service.Register(ts, service.NewReady())

	return &server{l: l, server: ts}, nil
}

func (s *server) Run(ctx context.Context) error {
	log.G(ctx).Info("starting TTRPC server")
	return s.server.Serve(ctx, s.l)
}
