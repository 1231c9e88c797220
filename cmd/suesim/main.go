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

// suesim runs a single discrete-event simulation of a Scale-Up Ethernet
// fabric: a fixed number of XPUs exchanging transactions over either a
// direct link or a switched fabric, with CBFC and LLR providing flow
// control and reliability on every hop.
//
// Usage:
//
//	go run ./cmd/suesim -xpus 8 -switch -vcs 4 -rate 1e9 -out ./run1
//
// Output: twelve CSV logs under -out/performance-data/data/ (performance,
// credit, queue depth, drops, load-balance decisions, wait time, pack
// counts) plus, if -metrics_addr is set, a live Prometheus /metrics
// endpoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"suesim/internal/suesim/config"
	"suesim/internal/suesim/telemetry"
	"suesim/internal/suesim/topology"
	"suesim/internal/suesim/traffic"
	"suesim/pkg/sim"
)

func main() {
	numXpus := flag.Int("xpus", 2, "number of XPUs in the fabric")
	portsPerXpu := flag.Int("ports_per_xpu", 1, "physical ports per XPU")
	portsPerSue := flag.Int("ports_per_sue", 1, "ports owned by each SUE engine (1, 2 or 4)")
	numVcs := flag.Int("vcs", 4, "virtual channels per link (1..4)")
	useSwitch := flag.Bool("switch", false, "route through a switch fabric instead of a direct link (required for >2 XPUs)")

	linkRate := flag.Float64("rate", 1e9, "link rate in bytes/sec")
	linkDelay := flag.Int64("link_delay_ns", 100, "link propagation delay (ns)")
	ifg := flag.Int64("ifg_ns", 1, "interframe gap (ns)")
	vcSchedDelay := flag.Int64("vc_sched_delay_ns", 1, "delay between TX arbitration passes (ns)")
	procRate := flag.Int64("proc_rate_ns_per_byte", 1, "processing-queue service time per byte (ns)")
	procQueueMax := flag.Int("proc_queue_max_bytes", 1<<20, "processing queue byte cap per port")
	mainQueueMax := flag.Int("main_queue_max_bytes", 1<<20, "main (control) queue byte cap per port")
	vcQueueMax := flag.Int("vc_queue_max_bytes", 1<<20, "per-VC queue byte cap per port")
	addlHeader := flag.Int("additional_header_size", 53, "header overhead added to each VC-queue reservation")

	enableCBFC := flag.Bool("cbfc", true, "enable credit-based flow control")
	initialCredits := flag.Uint("initial_credits", 64, "initial CBFC credits per (peer,vc)")
	creditCeiling := flag.Uint("credit_ceiling", 0, "CBFC credit ceiling (0 disables overflow checking)")
	creditBatch := flag.Uint("credit_batch", 4, "CBFC credit-return batch size")
	creditGenerateNs := flag.Int64("credit_generate_delay_ns", 0, "delay before a batched credit-update is enqueued (ns)")
	creUpdateAddHeadNs := flag.Int64("cre_update_add_head_delay_ns", 0, "header-attach delay for an outgoing credit-update frame (ns)")
	dataAddHeadNs := flag.Int64("data_add_head_delay_ns", 0, "header-attach delay for an outgoing ACK/NACK frame; data frames are not delayed by it (ns)")

	enableLLR := flag.Bool("llr", true, "enable link-layer retransmission")
	llrTimeout := flag.Int64("llr_timeout_ns", 50_000, "LLR resend timer (ns)")
	llrWindow := flag.Int("llr_window", 0, "max unacked LLR frames per (peer,vc); 0 leaves the window unbounded")
	ackProcessDelayNs := flag.Int64("ack_process_delay_ns", 0, "delay before a received ACK/NACK reaches the LLR manager (ns)")
	ackAddHeaderDelayNs := flag.Int64("ack_add_header_delay_ns", 0, "header-attach delay for an outgoing ACK/NACK frame (ns)")

	switchForwardDelay := flag.Int64("switch_forward_delay_ns", 50, "ingress->egress handoff delay inside a switch (ns)")
	errorRate := flag.Float64("error_rate", 0, "per-frame physical error probability (0..1)")
	switchInternalCredits := flag.Uint("switch_internal_credits", 85, "ingress->egress internal CBFC credit pool inside a switch")

	maxBurstSize := flag.Int("max_burst_bytes", 4096, "maximum bytes packed into one burst")
	mtu := flag.Int("mtu", 0, "link MTU in bytes; 0 skips the burst-fits-in-MTU check")
	schedulingInterval := flag.Int64("scheduling_interval_ns", 100, "period of each SUE engine's packing scheduler (ns)")
	packingDelay := flag.Int64("packing_delay_per_packet_ns", 0, "delay between burst selection and commit to the port (ns)")
	destQueueMax := flag.Int("dest_queue_max_bytes", 0, "per-(destXPU,VC) destination queue byte cap (0 disables the cap)")

	lbAlgo := flag.Int("lb_algo", 0, "load balance algorithm: 0=SimpleMod 1=ModWithSeed 2=PrimeHash 3=EnhancedHash 4=RoundRobin 5=ConsistentHash")
	lbSeed := flag.Uint("lb_seed", 0, "load balance seed")
	lbPrime1 := flag.Uint("lb_prime1", 2654435761, "PrimeHash's prime1 multiplier")
	lbPrime2 := flag.Uint("lb_prime2", 40503, "PrimeHash's prime2 multiplier (applied to the vc term when lb_use_vc_in_hash)")
	lbUseVcInHash := flag.Bool("lb_use_vc_in_hash", true, "fold vc into PrimeHash/ConsistentHash's key")
	lbBitOps := flag.Bool("lb_enable_bit_operations", false, "layer an avalanche bit-mix on top of the load-balance hash arithmetic")

	statLogging := flag.Bool("stat_logging", false, "enable periodic queue-depth/credit CSV sampling")
	clientStatInterval := flag.Int64("client_stat_interval_ns", 100_000, "sampling period for destination-queue snapshots (ns)")
	linkStatInterval := flag.Int64("link_stat_interval_ns", 100_000, "sampling period for per-port queue/credit snapshots (ns)")

	trafficMode := flag.String("traffic_mode", "uniform", "traffic source: uniform, flows (CSV matrix) or trace (captured replay)")
	flowsCSV := flag.String("flows_csv", "", "flows mode: path to the srcXPU,dstXPU,sueId,portIdx,vc,rateMbps,totalBytes matrix")
	traceCSV := flag.String("trace_csv", "", "trace mode: path to the timestamp_ns,gpuId,dieId,operation,tileId capture")
	traceOp := flag.String("trace_op", "", "trace mode: keep only rows with this operation (empty keeps all)")
	traceTile := flag.Int("trace_tile", -1, "trace mode: keep only rows with this tileId (-1 keeps all)")

	txnBytes := flag.Int("txn_bytes", 256, "transaction size in bytes")
	meanPeriodNs := flag.Int64("txn_period_ns", 10_000, "uniform traffic: mean interarrival time (ns)")
	threadRate := flag.Float64("thread_rate_mbps", 0, "uniform traffic: per-XPU offered rate in Mbps; >0 overrides -txn_period_ns")
	totalBytesToSend := flag.Int64("total_bytes_to_send", 0, "uniform traffic: stop each generator once it has sent this many bytes (0 runs until duration_ns)")

	clientStart := flag.Int64("client_start_ns", 0, "first traffic generator starts at this simulation time")
	threadStartInterval := flag.Int64("thread_start_interval_ns", 0, "stagger between successive XPUs' generator starts (ns)")
	clientStopOffset := flag.Int64("client_stop_offset_ns", 0, "pause every generator this long before the run's end")
	serverStart := flag.Int64("server_start_ns", 0, "delay-stat observation starts at this simulation time")
	serverStopOffset := flag.Int64("server_stop_offset_ns", 0, "delay-stat observation stops this long before the run's end")

	runDuration := flag.Int64("duration_ns", 10_000_000, "simulated run duration (ns)")
	outDir := flag.String("out", "./suesim-out", "directory to write CSV logs into")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address")
	flag.Parse()

	meanPeriod := *meanPeriodNs
	if *threadRate > 0 {
		meanPeriod = int64(float64(*txnBytes) * 8000 / *threadRate)
	}

	cfg := config.Config{
		NumXpus: *numXpus, PortsPerXpu: *portsPerXpu, PortsPerSue: *portsPerSue, NumVcs: *numVcs,
		UseSwitch:               *useSwitch,
		LinkRateBytesPerSec:     *linkRate,
		LinkDelayNs:             *linkDelay,
		InterframeGapNs:         *ifg,
		VcSchedulingDelayNs:     *vcSchedDelay,
		ProcessingRateNsPerByte: *procRate,
		ProcessingQueueMaxBytes: *procQueueMax,
		MainQueueMaxBytes:       *mainQueueMax,
		VcQueueMaxBytes:         *vcQueueMax,
		AdditionalHeaderSize:    *addlHeader,
		EnableCBFC:              *enableCBFC,
		InitialCredits:          uint32(*initialCredits),
		CreditCeiling:           uint32(*creditCeiling),
		CreditBatchSize:         uint32(*creditBatch),
		CreditGenerateNs:        *creditGenerateNs,
		CreUpdateAddHeadNs:      *creUpdateAddHeadNs,
		DataAddHeadNs:           *dataAddHeadNs,
		EnableLLR:               *enableLLR,
		LlrTimeoutNs:            *llrTimeout,
		LlrWindowSize:           *llrWindow,
		AckProcessDelayNs:       *ackProcessDelayNs,
		AckAddHeaderDelayNs:     *ackAddHeaderDelayNs,
		SwitchForwardDelayNs:    *switchForwardDelay,
		ErrorRate:               *errorRate,
		SwitchInternalCredits:   uint32(*switchInternalCredits),
		MaxBurstSize:            *maxBurstSize,
		Mtu:                     *mtu,
		SchedulingIntervalNs:    *schedulingInterval,
		PackingDelayPerPacketNs: *packingDelay,
		DestQueueMaxBytes:       *destQueueMax,
		LoadBalanceAlgorithm:    *lbAlgo,
		LoadBalanceSeed:         uint32(*lbSeed),
		HashPrime1:              uint32(*lbPrime1),
		HashPrime2:              uint32(*lbPrime2),
		UseVcInHash:             *lbUseVcInHash,
		EnableBitOperations:     *lbBitOps,
		TrafficTxnBytes:         *txnBytes,
		TrafficMeanPeriodNs:     meanPeriod,
		ThreadRateMbps:          *threadRate,
		TrafficTotalBytesToSend: *totalBytesToSend,
		ServerStartNs:           *serverStart,
		ClientStartNs:           *clientStart,
		ThreadStartIntervalNs:   *threadStartInterval,
		ClientStopOffsetNs:      *clientStopOffset,
		ServerStopOffsetNs:      *serverStopOffset,
		StatLoggingEnabled:      *statLogging,
		ClientStatInterval:      *clientStatInterval,
		LinkStatInterval:        *linkStatInterval,
		RunDurationNs:           *runDuration,
		OutDir:                  *outDir,
		MetricsAddr:             *metricsAddr,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("suesim: %v", err)
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		log.Fatalf("suesim: creating output directory: %v", err)
	}

	if cfg.MetricsAddr != "" {
		telemetry.Enable(cfg.MetricsAddr)
		fmt.Printf("metrics listening on %s\n", cfg.MetricsAddr)
	}

	sched := sim.New()
	world, err := topology.Build(sched, cfg, cfg.OutDir, time.Now().UnixNano())
	if err != nil {
		log.Fatalf("suesim: %v", err)
	}
	defer world.Close()

	for x := 0; x < cfg.NumXpus; x++ {
		gen, err := buildGenerator(cfg, uint32(x), *trafficMode, *flowsCSV, *traceCSV, *traceOp, *traceTile)
		if err != nil {
			log.Fatalf("suesim: xpu %d traffic: %v", x, err)
		}
		dist := world.Distributors[x]
		dist.SetGenerator(gen)
		if u, ok := gen.(*traffic.Uniform); ok {
			u.OnStop = dist.StopLogging
		}

		startAt := cfg.ClientStartNs + int64(x)*cfg.ThreadStartIntervalNs
		g := gen
		sched.Schedule(startAt, func() { g.Start(sched, dist) })
		if cfg.ClientStopOffsetNs > 0 && cfg.RunDurationNs > cfg.ClientStopOffsetNs {
			sched.Schedule(cfg.RunDurationNs-cfg.ClientStopOffsetNs, g.Pause)
		}
	}

	sched.Stop(cfg.RunDurationNs)
	start := time.Now()
	sched.Run()
	elapsed := time.Since(start)

	if v, halted := sched.Fatal(); halted {
		log.Fatalf("suesim: run halted by a fatal invariant breach at t=%dns: %v", sched.Now(), v)
	}

	fmt.Printf("simulated %dns of fabric activity in %s (%d XPUs, %d VCs)\n", cfg.RunDurationNs, elapsed, cfg.NumXpus, cfg.NumVcs)
	for x := 0; x < cfg.NumXpus; x++ {
		min, max, mean, count := world.DelayStats(x)
		if count == 0 {
			continue
		}
		fmt.Printf("  xpu %d: %d frames (%d transactions, %d bytes), delay min=%dns max=%dns mean=%.1fns\n",
			x, count, world.ReceivedTxns(x), world.DeliveredBytes(x), min, max, mean)
	}
}

// buildGenerator constructs xpu's traffic source per -traffic_mode.
func buildGenerator(cfg config.Config, xpu uint32, mode, flowsPath, tracePath, traceOp string, traceTile int) (traffic.Generator, error) {
	switch mode {
	case "uniform":
		return traffic.NewUniform(traffic.UniformParams{
			LocalXPU:         xpu,
			MinDestXPU:       0,
			MaxDestXPU:       uint32(cfg.NumXpus - 1),
			MinVC:            0,
			MaxVC:            uint8(cfg.NumVcs - 1),
			SizeBytes:        cfg.TrafficTxnBytes,
			MeanPeriodNs:     cfg.TrafficMeanPeriodNs,
			TotalBytesToSend: cfg.TrafficTotalBytesToSend,
			Seed:             int64(xpu) + 1,
		}), nil
	case "flows":
		if flowsPath == "" {
			return nil, fmt.Errorf("-flows_csv is required with -traffic_mode=flows")
		}
		flows, err := traffic.LoadFlowsFile(flowsPath, xpu, cfg.TrafficTxnBytes)
		if err != nil {
			return nil, err
		}
		return traffic.NewFlowSet(flows), nil
	case "trace":
		if tracePath == "" {
			return nil, fmt.Errorf("-trace_csv is required with -traffic_mode=trace")
		}
		events, err := traffic.LoadTraceFile(tracePath, traceOp, traceTile, cfg.TrafficTxnBytes)
		if err != nil {
			return nil, err
		}
		return traffic.NewTrace(events), nil
	default:
		return nil, fmt.Errorf("unknown -traffic_mode %q (want uniform, flows or trace)", mode)
	}
}
