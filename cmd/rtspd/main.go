// Command rtspd is the RTSP 1.0 streaming server: it loads a JSON
// config describing listen parameters, an auth policy, and a set of
// named streams, then serves OPTIONS/DESCRIBE/SETUP/PLAY/PAUSE/
// TEARDOWN/GET_PARAMETER/SET_PARAMETER over TCP until signaled to
// stop. The flag parsing, logger wiring, and signal-driven graceful
// shutdown follow the teacher's cmd/relay/main.go shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/camcore/rtspd/pkg/auth"
	"github.com/camcore/rtspd/pkg/config"
	"github.com/camcore/rtspd/pkg/framesource"
	"github.com/camcore/rtspd/pkg/logger"
	"github.com/camcore/rtspd/pkg/registry"
	"github.com/camcore/rtspd/pkg/server"
)

func main() {
	fs := flag.NewFlagSet("rtspd", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", "config.json", "path to the server's JSON config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTSP 1.0 streaming server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting rtspd", "log_config", logFlags.String(), "config_path", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "streams", len(cfg.Streams))

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Error("failed to build stream registry", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(auth.Policy(policyOrDefault(cfg.Auth.Policy)), cfg.Auth.Realm, cfg.Auth.Users)

	srv := server.New(server.Config{
		ListenAddress:  cfg.Listen.Address,
		ListenPort:     cfg.Listen.Port,
		SessionTimeout: cfg.Listen.SessionTimeout(),
		RTPMTU:         cfg.Listen.RTPMTUOrDefault(),
		MaxQueueDepth:  cfg.Listen.MaxQueueDepthOrDefault(),
		Verifier:       verifier,
	}, reg, log)

	if err := srv.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	log.Info("server started", "addr", srv.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	<-ctx.Done()
	if err := srv.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("graceful shutdown complete")
}

func policyOrDefault(p string) string {
	if p == "" {
		return string(auth.PolicyNone)
	}
	return p
}

// buildRegistry resolves every configured stream's frame_source
// identifier to a concrete framesource.Source and registers it.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	for path, spec := range cfg.Streams {
		src, err := resolveFrameSource(spec.FrameSource)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", path, err)
		}

		name := spec.Name
		if name == "" {
			name = path
		}

		stream := &registry.Stream{
			Path:    path,
			Name:    name,
			VideoPT: spec.VideoPT,
			Source:  src,
		}
		if spec.AudioPT != nil {
			stream.Audio = &registry.AudioConfig{
				PayloadType: *spec.AudioPT,
				Encoding:    spec.AudioCodec,
				ClockRate:   spec.AudioRate,
				Channels:    spec.AudioChans,
			}
		}
		reg.Register(stream)
	}
	return reg, nil
}

// resolveFrameSource parses a frame_source identifier of the form
// "file:<path>" or "file:<path>@<fps>" into a framesource.Source.
// Additional driver prefixes (e.g. a live capture device) are a matter
// of adding a case here; the core has no compile-time dependency on
// any one driver.
func resolveFrameSource(spec string) (framesource.Source, error) {
	driver, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("frame_source %q: missing driver prefix (expected \"file:<path>\")", spec)
	}

	switch driver {
	case "file":
		path, fpsStr, hasFPS := strings.Cut(rest, "@")
		fps := 25.0
		if hasFPS {
			parsed, err := strconv.ParseFloat(fpsStr, 64)
			if err != nil {
				return nil, fmt.Errorf("frame_source %q: invalid fps: %w", spec, err)
			}
			fps = parsed
		}
		return framesource.NewFileSource(path, fps), nil
	default:
		return nil, fmt.Errorf("frame_source %q: unknown driver %q", spec, driver)
	}
}
