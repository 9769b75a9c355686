package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	persistlog "voxeltags.ai/internal/persistence/log"
	"voxeltags.ai/internal/sim/calendar"
	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/service"
	"voxeltags.ai/internal/sim/tuning"
	"voxeltags.ai/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableAudit = flag.Bool("disable_audit", false, "disable the JSONL edit audit log")
		token        = flag.String("token", "", "shared HELLO auth token (or set VT_WS_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cal, err := calendarFromTuning(tune)
	if err != nil {
		logger.Fatalf("calendar: %v", err)
	}

	store, desc, err := openPlaceStore(*dataDir)
	if err != nil {
		logger.Fatalf("open place store: %v", err)
	}
	defer store.Close()
	logger.Printf("place store: %s", desc)

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("backup mirror: %v", err)
	}
	if mirror != nil {
		// Runs after the audit logger's deferred Close, so the last file is
		// queued before the mirror drains.
		defer mirror.Close()
		logger.Printf("backup mirror enabled")
	}

	var audit service.Auditor
	if !*disableAudit {
		var opts persistlog.Options
		if mirror != nil {
			opts.OnClose = mirror.Enqueue
		}
		al := persistlog.NewAuditLoggerWithOptions(*dataDir, opts)
		defer al.Close()
		audit = al
	}

	svc := service.New(store, cal, serviceConfig(tune), audit, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "# HELP voxeltags_day Current calendar day.\n")
		fmt.Fprintf(rw, "# TYPE voxeltags_day gauge\n")
		fmt.Fprintf(rw, "voxeltags_day %d\n", cal.Today())
		writeMirrorMetrics(rw, mirror)
	})

	if envBool("VT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/players", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ps, err := store.Players(r.Context())
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "day": cal.Today(), "players": ps})
		})
	} else {
		logger.Printf("admin endpoints disabled (VT_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	wsSrv := ws.NewServer(svc, logger)
	wsSrv.Token = strings.TrimSpace(*token)
	if wsSrv.Token == "" {
		wsSrv.Token = strings.TrimSpace(os.Getenv("VT_WS_TOKEN"))
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s (day %d)", *addr, cal.Today())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Printf("stopped")
}

func calendarFromTuning(t tuning.Tuning) (*calendar.Calendar, error) {
	epoch, err := t.Calendar.EpochTime()
	if err != nil {
		return nil, err
	}
	return calendar.New(calendar.Config{
		Epoch:       epoch,
		DayLength:   t.Calendar.DayLength(),
		MonthDays:   t.Calendar.MonthDays,
		QuarterDays: t.Calendar.QuarterDays,
		YearDays:    t.Calendar.YearDays,
	}), nil
}

func serviceConfig(t tuning.Tuning) service.Config {
	return service.Config{
		Grid:          places.Grid{Resolution: t.Grid.Resolution, Offset: t.Grid.Offset},
		DefaultRadius: t.Query.DefaultRadius,
		MaxRadius:     t.Query.MaxRadius,
		MaxTextLen:    t.Query.MaxTextLen,
		MaxImport:     t.Import.MaxPlaces,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
