package kv

import (
	"fmt"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/sablekv/sable/cmd/util"
	"github.com/sablekv/sable/rpc/client"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark a running sable server",
		Long:    "Runs set/get/zadd/zquery/del workloads against the server and reports latency percentiles and throughput.",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchThreads   = 10
	benchRequests  = 10000
	benchKeySpread = 100
)

func init() {
	key := "threads"
	benchCmd.Flags().Int(key, 10, cmdUtil.WrapString("Number of concurrent workers"))
	key = "requests"
	benchCmd.Flags().Int(key, 10000, cmdUtil.WrapString("Requests per worker and workload"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, cmdUtil.WrapString("How many different keys to spread the requests over"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	benchThreads = viper.GetInt("threads")
	benchRequests = viper.GetInt("requests")
	benchKeySpread = viper.GetInt("keys")
	return nil
}

// benchWorkload issues one request per iteration; i spreads the key space
type benchWorkload struct {
	name string
	op   func(c *client.Client, i int) error
}

func benchWorkloads() []benchWorkload {
	return []benchWorkload{
		{"set", func(c *client.Client, i int) error {
			_, err := c.Do("set", benchKey(i), "benchmark-value")
			return err
		}},
		{"get", func(c *client.Client, i int) error {
			_, err := c.Do("get", benchKey(i))
			return err
		}},
		{"zadd", func(c *client.Client, i int) error {
			_, err := c.Do("zadd", "__bench_zset", fmt.Sprintf("%d", i), benchKey(i))
			return err
		}},
		{"zquery", func(c *client.Client, i int) error {
			_, err := c.Do("zquery", "__bench_zset", "0", "", "0", "20")
			return err
		}},
		{"del", func(c *client.Client, i int) error {
			_, err := c.Do("del", benchKey(i))
			return err
		}},
	}
}

func benchKey(i int) string {
	return fmt.Sprintf("__bench_%d", i%benchKeySpread)
}

func runBench(_ *cobra.Command, _ []string) error {
	registry := gometrics.NewRegistry()

	for _, workload := range benchWorkloads() {
		timer := gometrics.GetOrRegisterTimer(workload.name, registry)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		start := time.Now()
		for w := 0; w < benchThreads; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < benchRequests; i++ {
					opStart := time.Now()
					err := workload.op(rpcClient, i)
					timer.UpdateSince(opStart)
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
				}
			}()
		}
		wg.Wait()
		elapsed := time.Since(start)

		if firstErr != nil {
			return fmt.Errorf("workload %s failed: %w", workload.name, firstErr)
		}
		printBenchResult(workload.name, timer, elapsed)
	}
	return nil
}

func printBenchResult(name string, timer gometrics.Timer, elapsed time.Duration) {
	snapshot := timer.Snapshot()
	opsPerSec := float64(snapshot.Count()) / elapsed.Seconds()
	fmt.Printf("%-10s %8d ops %10.0f ops/sec  mean %8.1fµs  p50 %8.1fµs  p99 %8.1fµs  max %8.1fµs\n",
		name,
		snapshot.Count(),
		opsPerSec,
		snapshot.Mean()/1e3,
		snapshot.Percentile(0.5)/1e3,
		snapshot.Percentile(0.99)/1e3,
		float64(snapshot.Max())/1e3,
	)
}
