package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/legamerdc/jrpc"
	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/server"
	"github.com/legamerdc/jrpc/service"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the RPC server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := jrpc.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = jrpc.LoadConfig(configPath); err != nil {
					return errors.Wrap(err, "load config failed")
				}
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-console") {
				cfg.Log.Console = logConsole
			}
			return serve(cmd.Context(), cfg, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (.json, .yaml, .yml)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func serve(parent context.Context, cfg jrpc.Config, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.Logger()
	reg := service.NewRegistry()
	var srv *server.Server
	err := registerBuiltins(reg, func() statsSource {
		if srv == nil {
			return nil
		}
		return srv.Scheduler()
	}, time.Now)
	if err != nil {
		return err
	}

	srv, err = jrpc.Open(cfg, reg, log)
	if err != nil {
		return errors.Wrap(err, "open server failed")
	}
	sched := srv.Scheduler()
	if err := sched.RegisterRemoteProc(procLogStats, func() { logStats(log, sched.Stats()) }); err != nil {
		srv.Close()
		return err
	}
	if cfg.StatsCron != "" {
		if _, err := sched.DelayCron(cfg.StatsCron, func() { logStats(log, sched.Stats()) }); err != nil {
			srv.Close()
			return errors.Wrap(err, "stats cron failed")
		}
	}

	if configPath != "" {
		go func() {
			err := jrpc.WatchConfig(ctx, configPath, func(nc jrpc.Config, err error) {
				if err != nil {
					log.Warn("config reload failed", logx.Err(err))
					return
				}
				log.SetLevel(nc.Log.Level)
				log.Info("config reloaded", logx.String("log_level", nc.Log.Level))
			})
			if err != nil {
				log.Warn("config watch stopped", logx.Err(err))
			}
		}()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready")
	}

	err = srv.Start(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	return err
}
