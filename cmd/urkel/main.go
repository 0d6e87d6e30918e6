// Command urkel is a CLI front end for a go.urkel.dev/urkel store: insert,
// fetch, remove, prove, and verify keys against an on-disk trie, and
// optionally serve a live log console over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.urkel.dev/urkel"
	"go.urkel.dev/urkel/internal/config"
	"go.urkel.dev/urkel/internal/urkelconsole"
	"go.urkel.dev/urkel/internal/urkelmetrics"
	"go.urkel.dev/urkel/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "    open    -db <dir>")
	fmt.Fprintln(os.Stderr, "    insert  -db <dir> <key> <value>")
	fmt.Fprintln(os.Stderr, "    get     -db <dir> <key>")
	fmt.Fprintln(os.Stderr, "    rm      -db <dir> <key>")
	fmt.Fprintln(os.Stderr, "    root    -db <dir>")
	fmt.Fprintln(os.Stderr, "    prove   -db <dir> <key>")
	fmt.Fprintln(os.Stderr, "    verify  <root-hex-or-@file> <key> <proof-file>")
	fmt.Fprintln(os.Stderr, "    verify-batch <root-hex-or-@file> <manifest-file>")
	fmt.Fprintln(os.Stderr, "    serve   -db <dir> -listen <addr>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var level = new(slog.LevelVar)
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	console := urkelconsole.New(nil)
	slog.SetDefault(slog.New(urkelconsole.MultiHandler(h, console)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	go func() {
		for range sig {
			slog.Info("received USR1 signal, toggling log level")
			if level.Level() == slog.LevelDebug {
				level.Set(slog.LevelInfo)
			} else {
				level.Set(slog.LevelDebug)
			}
		}
	}()

	cfg, err := config.Load(configPath())
	if err != nil {
		fatal("loading config", "err", err)
	}
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			fatal("parsing log_level", "err", err)
		}
	}

	switch os.Args[1] {
	case "open":
		cmdOpen(os.Args[2:], cfg)
	case "insert":
		cmdInsert(os.Args[2:], cfg)
	case "get":
		cmdGet(os.Args[2:], cfg)
	case "rm":
		cmdRemove(os.Args[2:], cfg)
	case "root":
		cmdRoot(os.Args[2:], cfg)
	case "prove":
		cmdProve(os.Args[2:], cfg)
	case "verify":
		cmdVerify(os.Args[2:])
	case "verify-batch":
		cmdVerifyBatch(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:], cfg, console)
	default:
		usage()
	}
}

func configPath() string {
	if p := os.Getenv("URKEL_CONFIG"); p != "" {
		return p
	}
	return "urkel.yaml"
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// dbFlagSet returns a FlagSet pre-populated with the -db flag, whose default
// is layered under cfg.DB.
func dbFlagSet(name string, cfg *config.File) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	def := config.StringOr("urkeldb", "urkeldb", cfg.DB)
	db := fs.String("db", def, "path to the store directory")
	return fs, db
}

func openTree(dir string, metrics *urkelmetrics.Recorder) (*urkel.Tree, *store.Store, error) {
	var opts []store.Option
	if metrics != nil {
		opts = append(opts, store.WithMetrics(metrics))
	}
	s, err := store.Open(dir, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	t, err := urkel.Open(s)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("opening tree: %w", err)
	}
	return t, s, nil
}

func cmdOpen(args []string, cfg *config.File) {
	fs, db := dbFlagSet("open", cfg)
	fs.Parse(args)
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("open", "err", err)
	}
	defer s.Close()
	fmt.Printf("%x\n", t.RootHash())
}

func cmdInsert(args []string, cfg *config.File) {
	fs, db := dbFlagSet("insert", cfg)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: urkel insert -db <dir> <key> <value>")
		os.Exit(2)
	}
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("insert", "err", err)
	}
	defer s.Close()
	if err := t.Insert([]byte(rest[0]), []byte(rest[1])); err != nil {
		fatal("insert", "err", err)
	}
	if err := t.Commit(); err != nil {
		fatal("commit", "err", err)
	}
	fmt.Printf("%x\n", t.RootHash())
}

func cmdGet(args []string, cfg *config.File) {
	fs, db := dbFlagSet("get", cfg)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: urkel get -db <dir> <key>")
		os.Exit(2)
	}
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("get", "err", err)
	}
	defer s.Close()
	val, ok, err := t.Get([]byte(rest[0]))
	if err != nil {
		fatal("get", "err", err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	os.Stdout.Write(val)
	fmt.Println()
}

func cmdRemove(args []string, cfg *config.File) {
	fs, db := dbFlagSet("rm", cfg)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: urkel rm -db <dir> <key>")
		os.Exit(2)
	}
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("rm", "err", err)
	}
	defer s.Close()
	if err := t.Remove([]byte(rest[0])); err != nil {
		fatal("rm", "err", err)
	}
	if err := t.Commit(); err != nil {
		fatal("commit", "err", err)
	}
	fmt.Printf("%x\n", t.RootHash())
}

func cmdRoot(args []string, cfg *config.File) {
	fs, db := dbFlagSet("root", cfg)
	fs.Parse(args)
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("root", "err", err)
	}
	defer s.Close()
	fmt.Printf("%x\n", t.RootHash())
}

func cmdServe(args []string, cfg *config.File, console *urkelconsole.Handler) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	def := config.StringOr("urkeldb", "urkeldb", cfg.DB)
	db := fs.String("db", def, "path to the store directory")
	listenDef := config.StringOr("localhost:7381", "localhost:7381", cfg.Listen)
	listen := fs.String("listen", listenDef, "address to listen for HTTP requests")
	fs.Parse(args)

	reg := prometheus.NewRegistry()
	metrics := urkelmetrics.NewRecorder(reg)

	t, s, err := openTree(*db, metrics)
	if err != nil {
		fatal("serve", "err", err)
	}
	defer s.Close()

	limit := config.IntOr(10, 10, cfg.ConsoleLimit)
	console.SetLimit(limit)

	mux := http.NewServeMux()
	mux.Handle("/logz", console)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%x\n", t.RootHash())
	})
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		val, ok, err := t.Get([]byte(key))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(val)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srv := &http.Server{
		Addr:         *listen,
		Handler:      http.MaxBytesHandler(mux, 64*1024),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	e := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", *listen)
		e <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	case err := <-e:
		fatal("server error", "err", err)
	}
}
