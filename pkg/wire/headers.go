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

// Package wire defines the on-wire layering of a link-layer frame (PPP,
// CBFC, Ethernet, IPv4, UDP, SUE) and the opaque byte-and-tag Frame that
// carries them through the simulator. Only the byte sizes and addressing
// fields the state machines actually read are modelled; this is a
// discrete-event simulator, not a bit-accurate codec.
package wire

import "fmt"

// Protocol ids carried in the PPP wrapper's single protocol byte.
const (
	ProtoIPv4       = 0x21
	ProtoIPv6       = 0x57
	ProtoCBFCUpdate = 0xFB
	ProtoAck        = 0x11
	ProtoNack       = 0x22
)

// Reserved protocol numbers used when an upper layer hands a frame to the
// link layer for dispatch; the PPP wrapper compresses each to its one-byte
// id above before the frame hits the wire.
const (
	ProtNumCBFCUpdate = 0xCBFC
	ProtNumAck        = 0x1111
	ProtNumNack       = 0x2222
)

// SUE header opcodes (2 bits on the wire).
const (
	OpData uint8 = 0
	OpAck  uint8 = 1
	OpNack uint8 = 2
)

// MAC48 is a 6-byte Ethernet MAC address.
type MAC48 [6]byte

func (m MAC48) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsEven reports whether the least-significant byte of the address is even.
// §9 flags MAC-parity switch detection as fragile; this repo uses an
// explicit PortKind instead (see internal/suesim/netdevice); nothing in the
// repository calls this helper.
func (m MAC48) IsEven() bool { return m[5]%2 == 0 }

// IPv4Addr is a dotted-quad IPv4 address.
type IPv4Addr [4]byte

func (a IPv4Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// PPPHeader is the outermost wrapper: one protocol-id byte. The link-layer
// sequence number used by LLR travels as a Frame side-tag, never inside
// these bytes (§9: the source is inconsistent about this; this spec
// standardises on the side-tag so paths without LLR don't touch PPP).
type PPPHeader struct {
	Protocol uint8
}

// Len is the serialised size in bytes.
func (PPPHeader) Len() int { return 1 }

// CBFCHeader carries the VC id and a credit count. Credits == 0 identifies
// a data frame; nonzero identifies a credit-update frame.
type CBFCHeader struct {
	VC      uint8
	Credits uint8
}

// Len is the serialised size in bytes.
func (CBFCHeader) Len() int { return 2 }

// IsDataFrame reports whether this header marks a data frame (Credits==0).
func (h CBFCHeader) IsDataFrame() bool { return h.Credits == 0 }

// EthernetHeader carries addressing; length/type is always IPv4 (0x0800)
// for data frames on this simulator.
type EthernetHeader struct {
	Dst      MAC48
	Src      MAC48
	EthType  uint16
}

// Len is the serialised size in bytes: 6 (dst) + 6 (src) + 2 (type).
func (EthernetHeader) Len() int { return 14 }

const EthTypeIPv4 uint16 = 0x0800

// IPv4Header carries only the addressing fields the forwarding/addressing
// logic needs; the remaining standard 20-byte IPv4 overhead is accounted
// for in Len() without being modelled field-by-field.
type IPv4Header struct {
	Src IPv4Addr
	Dst IPv4Addr
}

// Len is the standard IPv4 header size in bytes (no options).
func (IPv4Header) Len() int { return 20 }

// UDPHeader carries source/destination ports.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
}

// Len is the standard UDP header size in bytes.
func (UDPHeader) Len() int { return 8 }

// SUEHeader is the 8-byte application-layer header prefixing a packed
// frame (§3, §6):
//
//	word0 = opcode[2] | ver/rsv[4] | xpuid[10] | psn[16]
//	word1 = vc[2]     | rsvd[14]   | rpsn[16]
//
// RPSN (the "reassembly PSN") is reserved for future per-partition use and
// is currently always equal to PSN; it is kept as a distinct field to match
// the wire layout exactly.
type SUEHeader struct {
	Opcode uint8
	XpuID  uint16
	PSN    uint16
	VC     uint8
	RPSN   uint16
}

// Len is the serialised size in bytes.
func (SUEHeader) Len() int { return 8 }

// Marshal encodes the header into its 8-byte wire form.
func (h SUEHeader) Marshal() [8]byte {
	var out [8]byte
	word0 := (uint32(h.Opcode&0x3) << 30) | (uint32(h.XpuID&0x3FF) << 16) | uint32(h.PSN)
	word1 := (uint32(h.VC&0x3) << 30) | uint32(h.RPSN)
	out[0] = byte(word0 >> 24)
	out[1] = byte(word0 >> 16)
	out[2] = byte(word0 >> 8)
	out[3] = byte(word0)
	out[4] = byte(word1 >> 24)
	out[5] = byte(word1 >> 16)
	out[6] = byte(word1 >> 8)
	out[7] = byte(word1)
	return out
}

// ParseSUEHeader decodes an 8-byte wire form back into a SUEHeader.
func ParseSUEHeader(b []byte) SUEHeader {
	word0 := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	word1 := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	return SUEHeader{
		Opcode: uint8((word0 >> 30) & 0x3),
		XpuID:  uint16((word0 >> 16) & 0x3FF),
		PSN:    uint16(word0 & 0xFFFF),
		VC:     uint8((word1 >> 30) & 0x3),
		RPSN:   uint16(word1 & 0xFFFF),
	}
}
