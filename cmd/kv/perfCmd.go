package kv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("cli")

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dMeta clusters",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = util.SplitList(viper.GetString("skip"))
	return nil
}

// perfTest is a single benchmark. prepare runs once before the benchmark with
// all keys of the test, op runs once per iteration.
type perfTest struct {
	name    string
	prepare func(keys []string)
	op      func(key string, i int) error
}

// perfResult holds the throughput and the latency distribution of a test
type perfResult struct {
	name    string
	result  testing.BenchmarkResult
	latency gometrics.Timer
	errors  int64
}

func fillKeys(keys []string) {
	for _, k := range keys {
		if _, err := rpcStore.Put(k, []byte("test")); err != nil {
			log.Warningf("error preparing key %s: %v", k, err)
		}
	}
}

func perfTests() []perfTest {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	return []perfTest{
		{
			name: "put",
			op: func(key string, _ int) error {
				_, err := rpcStore.Put(key, []byte("test"))
				return err
			},
		},
		{
			name: "put-large",
			op: func(key string, _ int) error {
				_, err := rpcStore.Put(key, largeValue)
				return err
			},
		},
		{
			name:    "get",
			prepare: fillKeys,
			op: func(key string, _ int) error {
				_, _, _, err := rpcStore.Get(key, store.ReadLinearizable)
				return err
			},
		},
		{
			name:    "get-stale",
			prepare: fillKeys,
			op: func(key string, _ int) error {
				_, _, _, err := rpcStore.Get(key, store.ReadStale)
				return err
			},
		},
		{
			name:    "cas",
			prepare: fillKeys,
			op: func(key string, _ int) error {
				_, version, _, err := rpcStore.Get(key, store.ReadStale)
				if err != nil {
					return err
				}
				_, err = rpcStore.CompareAndSwap(key, version, []byte("test"))
				// lost races are expected under contention
				if store.CodeOf(err) == store.RetCVersionMismatch {
					return nil
				}
				return err
			},
		},
		{
			name:    "delete",
			prepare: fillKeys,
			op: func(key string, _ int) error {
				_, err := rpcStore.Delete(key)
				return err
			},
		},
		{
			name:    "mixed",
			prepare: fillKeys,
			op: func(key string, i int) error {
				var err error
				switch i % 4 {
				case 0:
					_, err = rpcStore.Put(key, []byte("test"))
				case 1:
					_, _, _, err = rpcStore.Get(key, store.ReadLinearizable)
				case 2:
					_, err = rpcStore.PutE(key, []byte("test"), time.Minute)
				case 3:
					_, err = rpcStore.Delete(key)
				}
				return err
			},
		},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dMeta clusters")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	var results []perfResult
	for _, test := range perfTests() {
		if shouldSkip(test.name) {
			printSkipped(test.name)
			continue
		}
		res := runPerfTest(test)
		printResult(res)
		results = append(results, res)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

func runPerfTest(test perfTest) perfResult {
	keys := getKeys(test.name)
	res := perfResult{name: test.name, latency: gometrics.NewTimer()}
	var errCount atomic.Int64

	if test.prepare != nil {
		test.prepare(keys)
	}

	res.result = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := test.op(keys[counter%len(keys)], counter); err != nil {
					if errCount.Add(1) <= 10 {
						log.Warningf("(%s) - error: %v", test.name, err)
					}
				}
				res.latency.UpdateSince(start)
				counter++
			}
		})
	})
	res.errors = errCount.Load()

	for _, k := range keys {
		if _, err := rpcStore.Delete(k); err != nil {
			log.Warningf("(%s) - error deleting key: %v", test.name, err)
		}
	}
	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

func opsPerSec(result testing.BenchmarkResult) float64 {
	return 1e9 / float64(max(result.NsPerOp(), 1))
}

func printSkipped(test string) {
	fmt.Printf("%-12sskipped\n", test)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(res perfResult) {
	snap := res.latency.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-12s%10s/op\t%8.0f ops/sec\tp50=%s\tp99=%s\terrors=%d\n",
		res.name,
		time.Duration(res.result.NsPerOp()),
		opsPerSec(res.result),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		res.errors,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult) error {
	config := util.GetClientConfig()

	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors",
		"Endpoints", "Timeout", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		ps := res.latency.Snapshot().Percentiles([]float64{0.5, 0.99})
		row := []string{
			res.name,
			strconv.FormatInt(res.result.NsPerOp(), 10),
			fmt.Sprintf("%.0f", opsPerSec(res.result)),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(res.errors, 10),
			strings.Join(config.Endpoints, ";"),
			config.Timeout.String(),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}
	return nil
}
