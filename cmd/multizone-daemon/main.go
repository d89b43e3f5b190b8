package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	log "log/slog"

	"multizone/internal/bus"
	"multizone/internal/config"
	"multizone/internal/device"
	"multizone/internal/ipc"
	"multizone/internal/notify"
	"multizone/internal/talker"
	"multizone/internal/zone"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	port := cli.StringP("port", "p", "", "Serial port of the board (empty: auto-detect)")
	baud := cli.IntP("baud", "b", device.DefaultBaud, "Serial baud rate")
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	busURL := cli.StringP("bus", "u", "", "Websocket bus to publish status to")
	cue := cli.StringP("cue", "c", "", "mp3 played when the board connects or drops")
	skipFirmware := cli.Bool("skip-firmware", false, "Do not build and upload the sketch on connect")
	autoConnect := cli.BoolP("connect", "C", false, "Connect to the board at startup")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	flags := cli.CommandLine
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("baud") {
		cfg.Baud = *baud
	}
	if flags.Changed("socket") {
		cfg.Socket = *socket
	}
	if flags.Changed("bus") {
		cfg.BusURL = *busURL
	}
	if flags.Changed("cue") {
		cfg.CuePath = *cue
	}
	if flags.Changed("skip-firmware") {
		cfg.SkipFirmware = *skipFirmware
	}
	if flags.Changed("connect") {
		cfg.AutoConnect = *autoConnect
	}
	if flags.Changed("log") {
		cfg.LogLevel = *logLevel
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[cfg.LogLevel],
	})))

	log.Info("Booting up")

	store := talker.NewStore()
	talkers := talker.NewState(store, talker.NewGenerator(talker.GeneratorConfig{}))
	link := device.NewLink(cfg.Link(), store, cfg.Provisioner())
	ctrl := zone.NewController(link, talkers)

	watchLink(link, cfg.CuePath)

	srv, err := ipc.StartServer(cfg.Socket, ipc.Dispatch(ctrl, cfg.ConnectTimeout))
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer srv.Close()

	log.Debug("Listening for commands", "socket", cfg.Socket)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BusURL != "" {
		b, err := bus.NewBus(cfg.BusURL, "multizone")
		if err != nil {
			log.Warn("Failed to connect to bus, status will not be published", "url", cfg.BusURL, "err", err)
		} else {
			defer b.Close()
			go b.Run(ctx, cfg.BusInterval, ctrl.Snapshot)
		}
	}

	if cfg.AutoConnect {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
			if err := ctrl.Connect(cctx, cfg.Port); err != nil {
				log.Warn("Running in artificial mode", "err", err)
			}
		}()
	} else if p, ok := link.DiscoverPort(); ok {
		log.Info("Board detected, connect when ready", "port", p)
	} else {
		log.Warn("No board detected, running in artificial mode")
	}

	log.Info("Boot up - successful")

	<-ctx.Done()

	log.Info("Shutting down")
	ctrl.Disconnect()
}

func watchLink(link *device.Link, cuePath string) {
	var c *notify.Cue
	if cuePath != "" {
		c = notify.NewCue(cuePath)
	}

	link.OnStateChange(func(from, to device.State) {
		log.Info("Board link", "from", from, "to", to)
		if c == nil {
			return
		}

		up := to == device.StateConnected
		down := from == device.StateConnected && to == device.StateDisconnected
		if !up && !down {
			return
		}

		go func() {
			start := time.Now()
			if err := c.Play(); err != nil {
				log.Warn("Failed to play cue", "err", err)
				return
			}
			log.Debug("Played cue", "took", time.Since(start))
		}()
	})
}
