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

// Package loadbalancer is the per-XPU admission layer (C9, §4.8): it picks
// which of the XPU's SUE engines each outgoing transaction should enter,
// using destination-queue space as the admission signal, buffers
// transactions no SUE can currently admit, and pauses/resumes the traffic
// generator around that buffering. The hash-family arithmetic lives in
// Balancer; the buffering and pause/resume state machine in Distributor.
package loadbalancer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Algorithm selects which candidate-SUE formula Select uses.
type Algorithm int

const (
	SimpleMod Algorithm = iota
	ModWithSeed
	PrimeHash
	EnhancedHash
	RoundRobin
	ConsistentHash
)

// knuthPrime is Knuth's multiplicative hashing constant for 32-bit mixing,
// applied only when EnableBitOperations asks for avalanche mixing on top
// of the spec-literal arithmetic formulas below.
const knuthPrime = 2654435761

// Params configures a Balancer. Prime1/Prime2/Seed/UseVcInHash/
// EnableBitOperations mirror the §6 config knobs of the same name
// (hashSeed, prime1, prime2, useVcInHash, enableBitOperations); Algorithm
// and NumSues select the formula family and candidate count.
type Params struct {
	Algorithm           Algorithm
	NumSues            int
	Seed                uint32
	Prime1              uint32
	Prime2              uint32
	UseVcInHash         bool
	EnableBitOperations bool
}

// Balancer computes a primary candidate SUE index for a (destination XPU,
// VC) pair and, when that SUE can't currently admit the transaction, a
// full sweep order to try instead.
type Balancer struct {
	p Params

	rrCounter uint32 // RoundRobin: shared counter across all destinations (§4.8)

	hrw *rendezvous.Rendezvous // ConsistentHash
}

func rendezvousHasher(s string) uint64 {
	return xxhash.Sum64String(s)
}

// New builds a Balancer from the given Params.
func New(p Params) *Balancer {
	if p.Prime1 == 0 {
		p.Prime1 = 1
	}
	b := &Balancer{p: p}
	if p.Algorithm == ConsistentHash {
		nodes := make([]string, p.NumSues)
		for i := range nodes {
			nodes[i] = fmt.Sprintf("sue%d", i)
		}
		b.hrw = rendezvous.New(nodes, rendezvousHasher)
	}
	return b
}

// avalanche applies a Knuth-style multiplicative mix, used only when
// EnableBitOperations asks for better distribution than the spec's plain
// arithmetic formulas give on their own.
func avalanche(h uint32) uint32 {
	h ^= h >> 15
	h *= knuthPrime
	h ^= h >> 13
	return h
}

// Select returns the primary candidate SUE for (destXPU, vc) under the
// configured algorithm, without regard to whether that SUE currently has
// room. The arithmetic follows spec §4.8 literally for each named
// algorithm; EnableBitOperations layers an avalanche mix on top for
// formulas that would otherwise distribute poorly across a small NumSues,
// and UseVcInHash folds vc into formulas the spec otherwise defines over
// destXPU alone (SimpleMod/ModWithSeed/RoundRobin never take vc, per §4.8).
func (b *Balancer) Select(destXPU uint32, vc uint8) int {
	n := uint32(b.p.NumSues)
	if n == 0 {
		return 0
	}
	vcTerm := uint32(0)
	if b.p.UseVcInHash {
		vcTerm = uint32(vc)
	}
	switch b.p.Algorithm {
	case SimpleMod:
		return int(destXPU % n)
	case ModWithSeed:
		return int((destXPU + b.p.Seed) % n)
	case PrimeHash:
		h := destXPU*b.p.Prime1 + b.p.Seed + vcTerm*b.p.Prime2
		if b.p.EnableBitOperations {
			h = avalanche(h)
		}
		return int(h % n)
	case EnhancedHash:
		h := destXPU + uint32(vc)
		if b.p.EnableBitOperations {
			h = avalanche(h + b.p.Seed)
		}
		return int(h % n)
	case RoundRobin:
		return int((destXPU + b.rrCounter) % n)
	case ConsistentHash:
		key := fmt.Sprintf("%d", destXPU)
		if b.p.UseVcInHash {
			key = fmt.Sprintf("%d:%d", destXPU, vc)
		}
		node := b.hrw.Lookup(key)
		var idx int
		fmt.Sscanf(node, "sue%d", &idx)
		return idx
	default:
		return int(destXPU % n)
	}
}

// Advance moves RoundRobin's shared counter forward once a SUE has
// actually been committed to. Algorithms without this state ignore it.
func (b *Balancer) Advance(destXPU uint32) {
	if b.p.Algorithm == RoundRobin {
		b.rrCounter++
	}
}

// Distribute returns Select's primary candidate if canAccept reports true
// for it, else the first other SUE, in registration (index) order, for
// which canAccept reports true. ok is false if none of the candidates can
// admit right now (the caller should buffer and retry later).
func (b *Balancer) Distribute(destXPU uint32, vc uint8, canAccept func(sue int) bool) (sue int, ok bool) {
	if b.p.NumSues == 0 {
		return 0, false
	}
	start := b.Select(destXPU, vc)
	if canAccept(start) {
		b.Advance(destXPU)
		return start, true
	}
	for s := 0; s < b.p.NumSues; s++ {
		if s != start && canAccept(s) {
			return s, true
		}
	}
	return 0, false
}
