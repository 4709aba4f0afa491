// Command multicap runs one recording session, standalone or
// fleet-synchronized, according to the configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/multicap/multicap/internal/audio"
	"github.com/multicap/multicap/internal/config"
	mclog "github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/session"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "config.yaml", "path to config file (YAML)")
	mode := flag.String("mode", "", "override recording mode (standalone|sync)")
	listAudio := flag.Bool("list-audio-devices", false, "list capture devices and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	mclog.Configure(mclog.Config{Service: "multicap"})
	logger := mclog.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
		return 1
	}
	mclog.SetLevel(cfg.LogLevel)
	if *mode != "" {
		cfg.Recording.Mode = *mode
		if err := cfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("invalid mode override")
			return 1
		}
	}

	engine, err := audio.New(audio.Config{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		BitDepth:        cfg.Audio.BitDepth,
		Devices:         cfg.Audio.Devices,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Mode:            cfg.Audio.Mode,
		Timing:          cfg.Audio.Timing,
	})
	if err != nil {
		logger.Error().Err(err).Msg("audio backend unavailable")
		return 1
	}
	defer engine.Close()

	if *listAudio {
		devices, err := engine.ListDevices()
		if err != nil {
			logger.Error().Err(err).Msg("listing audio devices failed")
			return 1
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("version", version).Str("mode", cfg.Recording.Mode).Msg("device control system starting")

	sess := session.New(cfg, engine)
	if err := sess.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("session failed")
		return 1
	}
	logger.Info().Msg("all recording processes finished")
	return 0
}
