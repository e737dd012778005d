package commands

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/writebehind/config"
	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/entitycache"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	pmet "github.com/IvanBrykalov/writebehind/metrics/prom"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/storage/badgerstore"
	"github.com/IvanBrykalov/writebehind/storage/memstore"
)

// Player is the benchmark entity.
type Player struct {
	entity.Base[int64]
	Name      string         `json:"name"`
	Level     int            `json:"level"`
	Gold      int64          `json:"gold"`
	Inventory []string       `json:"inventory"`
	Stats     map[string]int `json:"stats"`
	LastSeen  time.Time      `json:"last_seen"`
}

var players = entity.MustKind[int64]("players", func() *Player { return &Player{} })

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workload",
	RunE:  runBench,
}

func init() {
	f := runCmd.Flags()
	f.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.Duration("duration", 10*time.Second, "benchmark duration")
	f.Int("reads", 80, "read percentage [0..100]")
	f.Int("keys", 100_000, "number of distinct players")
	f.Float64("zipf-s", 1.1, "Zipf s > 1 (skew)")
	f.Float64("zipf-v", 1.0, "Zipf v")
	f.Int64("seed", time.Now().UnixNano(), "random seed")
	f.Duration("persist-interval", 0, "override persist.interval")
	f.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
}

type counters struct {
	reads, mutations, failures, total atomic.Uint64
}

func runBench(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("persist-interval"); d != 0 {
		cfg.Persist.Interval = d
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("pprof"); addr != "" {
		go func() {
			logger.Info("pprof serving", "addr", addr)
			logger.Warn("pprof server stopped", logger.Err(http.ListenAndServe(addr, nil)))
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opt := cfg.ServiceOptions()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		sm := pmet.NewStorage(reg, cfg.Metrics.Namespace)
		opt.Metrics = sm
		opt.StorageMetrics = sm
		opt.PoolMetrics = pmet.NewPool(reg, cfg.Metrics.Namespace)
		opt.CacheMetrics = pmet.PerKind(reg, cfg.Metrics.Namespace)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics serving", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logger.Err(err))
			}
		}()
		defer srv.Close()
	}

	svc := entitycache.New(store, opt)
	repo, err := entitycache.Register(svc, players)
	if err != nil {
		return err
	}
	svc.Start()

	flags := cmd.Flags()
	workers, _ := flags.GetInt("workers")
	duration, _ := flags.GetDuration("duration")
	readPct, _ := flags.GetInt("reads")
	keys, _ := flags.GetInt("keys")
	zipfS, _ := flags.GetFloat64("zipf-s")
	zipfV, _ := flags.GetFloat64("zipf-v")
	seed, _ := flags.GetInt64("seed")
	if workers <= 0 {
		workers = 1
	}
	if keys <= 1 {
		keys = 2
	}

	var c counters
	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			// rand.Rand is not goroutine-safe: one per worker.
			r := rand.New(rand.NewSource(seed + int64(id)*9973))
			zipf := rand.NewZipf(r, zipfS, zipfV, uint64(keys-1))
			for ctx.Err() == nil {
				c.total.Add(1)
				pk := int64(zipf.Uint64()) + 1
				if int(r.Int31n(100)) < readPct {
					c.reads.Add(1)
					if _, err := repo.Get(ctx, pk); err != nil && ctx.Err() == nil {
						c.failures.Add(1)
					}
					continue
				}
				c.mutations.Add(1)
				gold := r.Int63n(100)
				err := repo.Do(ctx, pk, func(_ context.Context, p *Player) error {
					mutate(p, gold)
					return nil
				})
				if err != nil && ctx.Err() == nil {
					c.failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Persist.StopTimeout)
	defer stopCancel()
	stats := repo.Stats()
	if err := svc.Stop(stopCtx); err != nil {
		logger.Error("stop failed", logger.Err(err))
	}

	report(cmd, cfg, &c, stats.Hits, stats.Misses, elapsed, workers, keys, store)
	return nil
}

func mutate(p *Player, gold int64) {
	p.Gold += gold
	p.LastSeen = time.Now()
	if p.Gold > int64(p.Level+1)*1000 {
		p.Level++
		p.Inventory = append(p.Inventory, fmt.Sprintf("badge-%d", p.Level))
		if p.Stats == nil {
			p.Stats = map[string]int{}
		}
		p.Stats["level_ups"]++
	}
}

func openStore(cfg *config.Config) (storage.Accessor, error) {
	switch cfg.Storage.Type {
	case "badger":
		return badgerstore.Open(cfg.BadgerOptions())
	default:
		return memstore.New(), nil
	}
}

func report(cmd *cobra.Command, cfg *config.Config, c *counters, hits, misses int64, elapsed time.Duration, workers, keys int, store storage.Accessor) {
	out := cmd.OutOrStdout()
	ops := c.total.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}
	fmt.Fprintf(out, "storage=%s policy=%s max=%d ttl=%v workers=%d keys=%d dur=%v\n",
		cfg.Storage.Type, cfg.Cache.Policy, cfg.Cache.MaxEntries, cfg.Cache.ExpireAfterAccess, workers, keys, elapsed)
	fmt.Fprintf(out, "ops=%d (%.0f ops/s)  reads=%d  mutations=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(), c.reads.Load(), c.mutations.Load(), c.failures.Load())
	fmt.Fprintf(out, "hits=%d  misses=%d  hit-rate=%.2f%%\n", hits, misses, hitRate)
	if ms, ok := store.(*memstore.Store); ok {
		fmt.Fprintf(out, "writes: insert=%d update=%d replace=%d\n",
			ms.Count(storage.OpInsert, ""), ms.Count(storage.OpUpdate, ""), ms.Count(storage.OpReplace, ""))
	}
}
