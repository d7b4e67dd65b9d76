// Command indexer is the process entrypoint: it wires the coordination
// store, queue, fetcher, and store together, then runs the seeder, a pool
// of workers, the janitor, the alert notifier, and the admin HTTP surface
// until told to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/chainforge/evm-indexer/internal/admin"
	"github.com/chainforge/evm-indexer/internal/alerts"
	"github.com/chainforge/evm-indexer/internal/config"
	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/eventbus"
	"github.com/chainforge/evm-indexer/internal/evmrpc"
	"github.com/chainforge/evm-indexer/internal/fetcher"
	"github.com/chainforge/evm-indexer/internal/janitor"
	"github.com/chainforge/evm-indexer/internal/queue"
	"github.com/chainforge/evm-indexer/internal/seeder"
	"github.com/chainforge/evm-indexer/internal/store"
	"github.com/chainforge/evm-indexer/internal/worker"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log.Println("Initializing evm-indexer...")
	log.Printf("build=%s rpc=%s workers=%d batch=%d", BuildCommit, cfg.RPCURL, cfg.WorkerCount, cfg.BatchSize)

	coordStore, err := coordination.New(cfg.CoordinationURL, cfg.WorkerCount+4)
	if err != nil {
		log.Fatalf("connect to coordination store: %v", err)
	}

	dbStore, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer dbStore.Close()

	q := queue.New(coordStore, time.Duration(cfg.LeaseTTLSeconds)*time.Second)
	limiter := coordination.NewRateLimiter(coordStore, "ratelimit:rpc", cfg.RPCCallsPerSecond, time.Duration(cfg.RateLimitWindowMS)*time.Millisecond)
	client := evmrpc.New(cfg.RPCURL, nil)
	f := fetcher.New(client, limiter, cfg.MaxRetries)

	bus := eventbus.New()
	controller := admin.NewController()

	seed := seeder.New(client, q, cfg.MinBlockNumber, cfg.BatchSize, cfg.SeedBlockTag, 0)
	seed.Pause = controller

	jan := janitor.New(q, 0)

	var delivery alerts.Delivery = alerts.NoopDelivery{}
	if cfg.AlertWebhookAuthToken != "" && cfg.AlertWebhookServerURL != "" {
		svixDelivery, err := alerts.NewSvixDelivery(cfg.AlertWebhookAuthToken, cfg.AlertWebhookServerURL)
		if err != nil {
			log.Fatalf("init alert delivery: %v", err)
		}
		delivery = svixDelivery
	}
	notifier := alerts.NewNotifier(delivery, "evm-indexer", cfg.AlertFailureThreshold)

	adminSrv := admin.NewServer(q, bus, controller, cfg.AdminJWTSecret, trimLeadingColon(cfg.AdminListenAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	go func() {
		log.Printf("admin server listening on %s", cfg.AdminListenAddr)
		if err := adminSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		seed.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		jan.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		notifier.Run(ctx, bus)
	}()

	workerStores := make([]*coordination.Store, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		// Each worker gets its own blocking connection to the coordination
		// store (spec.md §5/§9): sharing one across workers would serialize
		// their BLMOVE calls on whichever worker currently holds it.
		workerStore, err := coordStore.NewDedicatedBlocking()
		if err != nil {
			log.Fatalf("allocate dedicated blocking connection for worker-%d: %v", i, err)
		}
		workerStores = append(workerStores, workerStore)
		workerQueue := queue.New(workerStore, time.Duration(cfg.LeaseTTLSeconds)*time.Second)

		w := worker.New("worker-"+strconv.Itoa(i), workerQueue, f, dbStore, cfg.MaxBlocksInFlight)
		w.Bus = bus
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("worker %s stopped: %v", w.ID, err)
			}
		}()
	}

	<-sigChan
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown: %v", err)
	}

	cancel()
	wg.Wait()

	for _, ws := range workerStores {
		if err := ws.Close(); err != nil {
			log.Printf("close worker coordination connection: %v", err)
		}
	}
}

func trimLeadingColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return addr[1:]
	}
	return addr
}
