package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ecofarm.ai/internal/persistence/indexdb"
	persistlog "ecofarm.ai/internal/persistence/log"
	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/farm"
	"ecofarm.ai/internal/sim/tuning"
	"ecofarm.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 1337, "simulation seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Event sinks: dashboard hub, compressed journal, optional sqlite index.
	hub := ws.NewServer(logger)
	journal := persistlog.NewEventJournal(*dataDir, logger)
	defer journal.Close()
	sinks := protocol.MultiSink{hub, journal}

	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		sinks = append(sinks, idx)
	}

	f, err := farm.New(farm.DefaultLayout(cats), cats, tune, *seed, sinks, logger)
	if err != nil {
		logger.Fatalf("farm: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go f.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		items, balance := f.Ledger.Snapshot()
		total := 0
		for _, v := range items {
			total += v
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP ecofarm_budget Current farm balance.\n")
		fmt.Fprintf(rw, "# TYPE ecofarm_budget gauge\n")
		fmt.Fprintf(rw, "ecofarm_budget %.2f\n", balance)

		fmt.Fprintf(rw, "# HELP ecofarm_inventory_total Total stored item quantity.\n")
		fmt.Fprintf(rw, "# TYPE ecofarm_inventory_total gauge\n")
		fmt.Fprintf(rw, "ecofarm_inventory_total %d\n", total)

		fmt.Fprintf(rw, "# HELP ecofarm_inventory_capacity Inventory capacity.\n")
		fmt.Fprintf(rw, "# TYPE ecofarm_inventory_capacity gauge\n")
		fmt.Fprintf(rw, "ecofarm_inventory_capacity %d\n", f.Ledger.Capacity())

		fmt.Fprintf(rw, "# HELP ecofarm_inventory_item Stored quantity per item.\n")
		fmt.Fprintf(rw, "# TYPE ecofarm_inventory_item gauge\n")
		for _, id := range cats.Items.IDs {
			fmt.Fprintf(rw, "ecofarm_inventory_item{item=%q} %d\n", id, items[id])
		}
	})
	mux.HandleFunc("/v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
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
