// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// sue-sweep runs the simulator across a matrix of load-balance algorithms
// and error rates, one scheduler per point, and idempotently publishes each
// run's summary to Redis so a sweep that gets interrupted and relaunched
// never double-counts a run that already completed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"suesim/internal/suesim/config"
	"suesim/internal/suesim/redisclient"
	"suesim/internal/suesim/sweep"
	"suesim/internal/suesim/traffic"
	"suesim/internal/suesim/topology"
	"suesim/pkg/sim"
)

func main() {
	numXpus := flag.Int("xpus", 2, "number of XPUs per run")
	useSwitch := flag.Bool("switch", false, "route through a switch fabric")
	numVcs := flag.Int("vcs", 4, "virtual channels per link")
	runDuration := flag.Int64("duration_ns", 2_000_000, "simulated duration per run (ns)")
	errorRates := flag.String("error_rates", "0,0.001,0.01", "comma-separated per-frame error probabilities to sweep")
	algos := flag.String("algorithms", "0,1,2,3,4,5", "comma-separated load-balance algorithms to sweep (0..5)")
	outBase := flag.String("out", "./sue-sweep-out", "base directory for per-run CSV logs")
	redisAddr := flag.String("redis_addr", "", "Redis address for idempotent result publishing; empty logs instead of publishing")
	labelPrefix := flag.String("label", "sweep", "prefix used to build each run's RunID")
	flag.Parse()

	rates := parseFloats(*errorRates)
	algorithms := parseInts(*algos)
	if len(rates) == 0 || len(algorithms) == 0 {
		fmt.Fprintln(os.Stderr, "sue-sweep: -error_rates and -algorithms must each list at least one value")
		os.Exit(2)
	}

	var evaler sweep.Evaler
	if *redisAddr != "" {
		evaler = redisclient.New(*redisAddr)
	} else {
		evaler = redisclient.Logging{}
	}
	pub := sweep.NewPublisher(evaler, 24*time.Hour)
	ctx := context.Background()

	total, completed, published := 0, 0, 0
	for _, algo := range algorithms {
		for _, rate := range rates {
			total++
			cfg := config.Config{
				NumXpus: *numXpus, PortsPerXpu: 1, PortsPerSue: 1, NumVcs: *numVcs,
				UseSwitch:               *useSwitch,
				LinkRateBytesPerSec:     1e9,
				LinkDelayNs:             100,
				InterframeGapNs:         1,
				VcSchedulingDelayNs:     1,
				ProcessingRateNsPerByte: 1,
				ProcessingQueueMaxBytes: 1 << 20,
				MainQueueMaxBytes:       1 << 20,
				VcQueueMaxBytes:         1 << 20,
				EnableCBFC:              true,
				InitialCredits:          64,
				CreditCeiling:           256,
				CreditBatchSize:         4,
				EnableLLR:               true,
				LlrTimeoutNs:            50_000,
				SwitchForwardDelayNs:    50,
				ErrorRate:               rate,
				SwitchInternalCredits:   85,
				MaxBurstSize:            4096,
				SchedulingIntervalNs:    100,
				TrafficTxnBytes:         256,
				LoadBalanceAlgorithm:    algo,
				HashPrime1:              2654435761,
				HashPrime2:              40503,
				UseVcInHash:             true,
				RunDurationNs:           *runDuration,
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "sue-sweep: skipping algo=%d rate=%g: %v\n", algo, rate, err)
				continue
			}

			label := fmt.Sprintf("%s-algo%d-err%g", *labelPrefix, algo, rate)
			outDir := fmt.Sprintf("%s/%s", *outBase, label)
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "sue-sweep: %s: %v\n", label, err)
				continue
			}

			sched := sim.New()
			world, err := topology.Build(sched, cfg, outDir, int64(algo)*1_000_003+int64(rate*1e6))
			if err != nil {
				fmt.Fprintf(os.Stderr, "sue-sweep: %s: %v\n", label, err)
				continue
			}

			for x := 0; x < cfg.NumXpus; x++ {
				gen := traffic.NewUniform(traffic.UniformParams{
					LocalXPU:     uint32(x),
					MinDestXPU:   0,
					MaxDestXPU:   uint32(cfg.NumXpus - 1),
					MinVC:        0,
					MaxVC:        uint8(cfg.NumVcs - 1),
					SizeBytes:    256,
					MeanPeriodNs: 5000,
					Seed:         int64(x) + 1,
				})
				dist := world.Distributors[x]
				gen.OnStop = dist.StopLogging
				dist.SetGenerator(gen)
				gen.Start(sched, dist)
			}

			sched.Stop(cfg.RunDurationNs)
			sched.Run()

			if v, halted := sched.Fatal(); halted {
				fmt.Fprintf(os.Stderr, "sue-sweep: %s halted by a fatal invariant breach at t=%dns: %v\n", label, sched.Now(), v)
				world.Close()
				continue
			}
			completed++

			var meanSum float64
			var meanCount int
			for x := 0; x < cfg.NumXpus; x++ {
				_, _, mean, count := world.DelayStats(x)
				if count > 0 {
					meanSum += mean
					meanCount++
				}
			}
			var meanDelay float64
			if meanCount > 0 {
				meanDelay = meanSum / float64(meanCount)
			}
			var drops int64
			for _, kind := range []string{"vcqueue_drop", "mainqueue_drop", "processingqueue_drop", "phy_drop"} {
				drops += world.DropCount(kind)
			}
			world.Close()

			result := sweep.Result{
				RunID:       label,
				ConfigLabel: label,
				Drops:       drops,
				MeanDelayNs: meanDelay,
			}
			ok, err := pub.Publish(ctx, result)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sue-sweep: publishing %s: %v\n", label, err)
				continue
			}
			if ok {
				published++
			}
			fmt.Printf("Summary: run=%s algo=%d error_rate=%g mean_delay_ns=%.1f published=%v\n", label, algo, rate, meanDelay, ok)
		}
	}

	fmt.Printf("sue-sweep: completed %d/%d points, %d newly published\n", completed, total, published)
}

func parseFloats(csv string) []float64 {
	var out []float64
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				var v float64
				fmt.Sscanf(csv[start:i], "%g", &v)
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out
}

func parseInts(csv string) []int {
	var out []int
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				var v int
				fmt.Sscanf(csv[start:i], "%d", &v)
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out
}
