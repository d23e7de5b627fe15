// cmd/dispatcher/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/gcode-dispatcher/internal/capture"
	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/config"
	"github.com/tamzrod/gcode-dispatcher/internal/expr"
	"github.com/tamzrod/gcode-dispatcher/internal/firmware"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/handlers"
	"github.com/tamzrod/gcode-dispatcher/internal/intercept"
	dlog "github.com/tamzrod/gcode-dispatcher/internal/log"
	"github.com/tamzrod/gcode-dispatcher/internal/macro"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
	"github.com/tamzrod/gcode-dispatcher/internal/paths"
	"github.com/tamzrod/gcode-dispatcher/internal/pipeline"
	"github.com/tamzrod/gcode-dispatcher/internal/scheduler"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		os.Stderr.WriteString("usage: dispatcher <config.yaml>\n")
		os.Exit(2)
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		os.Stderr.WriteString("config load failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		os.Stderr.WriteString("config validation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	config.Normalize(cfg)

	dlog.Configure(dlog.Config{Level: cfg.Dispatcher.Log.Level})
	log := dlog.Base()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Firmware link
	// --------------------

	fw, closeFW, err := firmware.Build(cfg.Dispatcher.Firmware, log)
	if err != nil {
		log.Fatal().Err(err).Msg("firmware link failed")
	}
	defer func() { _ = closeFW() }()

	// --------------------
	// Core wiring
	// --------------------

	var compat [channel.Count]channel.Compatibility
	for _, cc := range cfg.Dispatcher.Channels {
		ch, _ := channel.Parse(cc.Name)
		if cc.Compatibility != "" {
			m, _ := channel.ParseCompatibility(cc.Compatibility)
			compat[ch] = m
		}
	}

	store := model.NewStore(compat)
	mapper := paths.NewMapper(cfg.Dispatcher.Directories)
	sched := scheduler.New(ctx)
	bus := intercept.NewBus()
	captures := capture.NewTable()
	macros := macro.NewRunner(macro.NewArena(), log)

	fw.OnMessageBox = func(ch channel.Channel, open bool) {
		sched.SetAwaitingAck(ch, open)
	}

	h := &handlers.Handlers{
		Model:   store,
		FW:      fw,
		Paths:   mapper,
		Sched:   sched,
		Capture: captures,
		Macros:  macros,
		Files:   cfg.Dispatcher.Files,
		Version: version,
		Log:     log,
	}

	exec := &pipeline.Executor{
		Sched:    sched,
		Bus:      bus,
		Handlers: h,
		FW:       fw,
		Model:    store,
		Capture:  captures,
		Macros:   macros,
		Eval:     expr.New(store),
		Log:      log,
	}
	macros.Bind(exec)

	// --------------------
	// Metrics endpoint
	// --------------------

	if listen := cfg.Dispatcher.Metrics.Listen; listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listen, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	log.Info().Str("device", cfg.Dispatcher.Firmware.Device).Msg("dispatcher ready")

	// --------------------
	// USB console: stdin lines in, results out
	// --------------------

	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		code, err := gcode.Parse(scanner.Text(), channel.USB)
		if err != nil {
			out.WriteString("Error: " + err.Error() + "\n")
			out.Flush()
			continue
		}

		res, err := exec.Execute(ctx, code)
		switch {
		case errors.Is(err, gcode.ErrCancelled):
			out.WriteString("Cancelled\n")
		case err != nil:
			out.WriteString("Error: " + err.Error() + "\n")
		case res != nil && res.String() != "":
			out.WriteString(res.String() + "\n")
		default:
			out.WriteString("ok\n")
		}
		out.Flush()
	}
}
