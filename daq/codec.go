// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"io"
	"time"

	"github.com/go-daq/tdaq"
	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
)

// Frame tags for the /data output stream.
const (
	tagHeader uint8 = iota + 1
	tagMetaLogic
	tagMetaAnalog
	tagLogic
	tagAnalog
	tagTrigger
	tagEnd
)

// encodePacket serializes one data-feed packet into a frame body:
// the originating device name, a tag byte, then the tag's payload.
func encodePacket(dev string, pkt datafeed.Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(dev)

	switch p := pkt.(type) {
	case datafeed.Header:
		enc.WriteU8(tagHeader)
		enc.WriteU8(p.FeedVersion)
		enc.WriteI64(p.StartTime.UnixNano())
	case datafeed.MetaLogic:
		enc.WriteU8(tagMetaLogic)
		enc.WriteU64(p.SampleRate)
		enc.WriteU32(uint32(p.NumProbes))
	case datafeed.MetaAnalog:
		enc.WriteU8(tagMetaAnalog)
		enc.WriteU32(uint32(p.NumProbes))
	case datafeed.Logic:
		enc.WriteU8(tagLogic)
		enc.WriteU32(uint32(p.UnitSize))
		enc.WriteU32(uint32(len(p.Data)))
		if enc.Err() == nil {
			buf.Write(p.Data)
		}
	case datafeed.Analog:
		enc.WriteU8(tagAnalog)
		enc.WriteU32(uint32(p.MQ))
		enc.WriteU32(uint32(p.Unit))
		enc.WriteU32(uint32(p.Flags))
		enc.WriteU32(uint32(len(p.Data)))
		for _, v := range p.Data {
			enc.WriteF64(v)
		}
	case datafeed.Trigger:
		enc.WriteU8(tagTrigger)
	case datafeed.End:
		enc.WriteU8(tagEnd)
	default:
		return nil, xerrors.Errorf("daq: unknown packet type %T", pkt)
	}

	if err := enc.Err(); err != nil {
		return nil, xerrors.Errorf("daq: could not encode %T packet: %w", pkt, err)
	}
	return buf.Bytes(), nil
}

// decodePacket is the inverse of encodePacket.
func decodePacket(raw []byte) (string, datafeed.Packet, error) {
	r := bytes.NewReader(raw)
	dec := tdaq.NewDecoder(r)
	dev := dec.ReadStr()
	tag := dec.ReadU8()

	var pkt datafeed.Packet
	switch tag {
	case tagHeader:
		p := datafeed.Header{}
		p.FeedVersion = dec.ReadU8()
		p.StartTime = time.Unix(0, dec.ReadI64())
		pkt = p
	case tagMetaLogic:
		p := datafeed.MetaLogic{}
		p.SampleRate = dec.ReadU64()
		p.NumProbes = int(dec.ReadU32())
		pkt = p
	case tagMetaAnalog:
		p := datafeed.MetaAnalog{}
		p.NumProbes = int(dec.ReadU32())
		pkt = p
	case tagLogic:
		p := datafeed.Logic{}
		p.UnitSize = int(dec.ReadU32())
		n := dec.ReadU32()
		if err := dec.Err(); err != nil {
			return dev, nil, xerrors.Errorf("daq: could not decode logic packet: %w", err)
		}
		p.Data = make([]byte, n)
		if _, err := io.ReadFull(r, p.Data); err != nil {
			return dev, nil, xerrors.Errorf("daq: truncated logic packet: %w", err)
		}
		pkt = p
	case tagAnalog:
		p := datafeed.Analog{}
		p.MQ = datafeed.MQ(dec.ReadU32())
		p.Unit = datafeed.Unit(dec.ReadU32())
		p.Flags = datafeed.Flags(dec.ReadU32())
		n := dec.ReadU32()
		if err := dec.Err(); err != nil {
			return dev, nil, xerrors.Errorf("daq: could not decode analog packet: %w", err)
		}
		p.Data = make([]float64, n)
		for i := range p.Data {
			p.Data[i] = dec.ReadF64()
		}
		pkt = p
	case tagTrigger:
		pkt = datafeed.Trigger{}
	case tagEnd:
		pkt = datafeed.End{}
	default:
		return dev, nil, xerrors.Errorf("daq: unknown packet tag 0x%02x", tag)
	}

	if err := dec.Err(); err != nil {
		return dev, nil, xerrors.Errorf("daq: could not decode packet: %w", err)
	}
	return dev, pkt, nil
}
