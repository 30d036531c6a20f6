package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfgpkg "github.com/wharfdb/wharf/internal/config"
	"github.com/wharfdb/wharf/internal/runtime"
	httpserver "github.com/wharfdb/wharf/internal/server/http"
	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
	logpkg "github.com/wharfdb/wharf/pkg/log"
)

// getenv wraps os.Getenv; it is a package variable so tests can replace it.
var getenv = func(key string) string { return os.Getenv(key) }

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// Options configures Run.
type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run opens the runtime, starts the HTTP server, and blocks until ctx is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	logCfg := &logpkg.Config{
		Level:  getenvDefault("WHARF_LOG_LEVEL", "info"),
		Format: getenvDefault("WHARF_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
	}, procLogger)
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting wharf server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", storeDir),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	hsrv := httpserver.New(rt, procLogger)
	errCh := make(chan error, 1)
	go func() {
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-sctx.Done():
		hsrv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			log.Printf("http error: %v", err)
		}
		return err
	}
}
