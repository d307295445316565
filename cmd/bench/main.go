// Command bench runs a synthetic read-through workload against the cache
// and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkrasnov/hybridcache/cache"
	pmet "github.com/dkrasnov/hybridcache/metrics/prom"
	"github.com/dkrasnov/hybridcache/remote"
)

func main() {
	// ---- Flags ----
	var (
		capacity = flag.Int("cap", 100_000, "cache capacity (entries)")
		shards   = flag.Int("shards", 0, "number of shards (0=auto)")

		ttl      = flag.Duration("ttl", time.Minute, "entry time-to-live")
		ratio    = flag.Float64("refresh_ratio", 0.8, "refresh-ahead ratio in (0,1); 0 disables")
		failSafe = flag.Duration("fail_safe", 10*time.Minute, "fail-safe window; 0 disables")

		workers   = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration  = flag.Duration("duration", 10*time.Second, "benchmark duration")
		writePct  = flag.Int("writes", 5, "direct-write percentage [0..100]")
		tagEveryN = flag.Int("tag_invalidate_every", 0, "invalidate a tag every N ops per worker (0=never)")

		keys  = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		redisAddr = flag.String("redis", "", "Redis addr for the remote tier (empty = local-only)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "hybridcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Remote tier (optional) ----
	var store remote.Store
	if *redisAddr != "" {
		rs, err := remote.NewRedis(remote.RedisConfig{Addr: *redisAddr, KeyPrefix: "bench:"})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = rs.Close() }()
		store = rs
	}

	// ---- Build cache ----
	pol := cache.Policy{
		Duration:            *ttl,
		FailSafeMaxDuration: *failSafe,
		RefreshAheadRatio:   *ratio,
	}
	c := cache.New[string](cache.Options[string]{
		Capacity:      *capacity,
		Shards:        *shards,
		DefaultPolicy: pol,
		Remote:        store,
		Metrics:       metrics,
	})
	defer func() { _ = c.Close() }()

	// ---- Snapshot flags for goroutines ----
	writePctVal := *writePct
	tagEvery := *tagEveryN
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var loads, writes, invalidations, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	factory := func(ctx context.Context) (string, error) {
		return "v", nil
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}
			tagByKey := func(k string) string {
				return "tag:" + strconv.Itoa(len(k)%16)
			}

			n := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				n++

				atomic.AddUint64(&total, 1)
				k := keyByZipf()
				switch {
				case tagEvery > 0 && n%tagEvery == 0:
					atomic.AddUint64(&invalidations, 1)
					c.InvalidateByTag(ctx, tagByKey(k))
				case int(localR.Int31n(100)) < writePctVal:
					atomic.AddUint64(&writes, 1)
					c.Set(ctx, k, "v"+strconv.Itoa(localR.Int()), cache.Policy{Tags: []string{tagByKey(k)}})
				default:
					atomic.AddUint64(&loads, 1)
					_, _ = c.GetOrSet(ctx, k, factory, cache.Policy{Tags: []string{tagByKey(k)}})
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	fmt.Printf("cap=%d shards=%d workers=%d keys=%d remote=%v dur=%v seed=%d\n",
		*capacity, *shards, workersN, *keys, store != nil, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  loads=%d  writes=%d  invalidations=%d\n",
		ops, float64(ops)/elapsed.Seconds(),
		atomic.LoadUint64(&loads), atomic.LoadUint64(&writes), atomic.LoadUint64(&invalidations))
	fmt.Printf("Len()=%d\n", c.Len())
}
