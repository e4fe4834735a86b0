package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
	slogmulti "github.com/samber/slog-multi"
)

// Start runs a mesh node until its context is cancelled. The transport is
// the adapter performing real I/O; observers receive coordinator events. If
// initState is non-nil it receives the state before the loop starts, which
// lets a test harness drive the node.
func Start(cfg state.MeshCfg, transport Transport, logLevel slog.Level, initState **state.State, observers ...MeshObserver) error {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(s *state.State) error, 128)

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(cfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			cancel(nil)
			return err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			cancel(nil)
			return err
		}
		defer f.Close()
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	s := state.State{
		Modules: make(map[string]state.MeshModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			MeshCfg:         cfg,
			Log:             logger,
		},
	}
	if initState != nil {
		*initState = &s
	}

	s.Log.Info("init modules")
	err := initModules(&s, transport, observers...)
	if err != nil {
		Stop(&s)
		return err
	}
	s.Log.Info("init modules complete")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()

	return MainLoop(&s, dispatch)
}

func initModules(s *state.State, transport Transport, observers ...MeshObserver) error {
	var modules []state.MeshModule
	modules = append(modules, &Topology{})
	modules = append(modules, &MeshRouter{})
	modules = append(modules, NewCoordinator(transport, observers...))

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	if s.DispatchChannel != nil {
		// late Dispatch calls panic on the closed channel and are recovered
		close(s.DispatchChannel)
	}
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
