// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ols

import (
	"io"
	"strings"

	"golang.org/x/xerrors"
)

// Metadata is the self-description an analyzer returns to the
// metadata command.
type Metadata struct {
	Name    string
	Version string

	NumProbes       int
	MaxSamples      uint64 // sample memory, in bytes
	MaxSampleRate   uint64 // Hz
	ProtocolVersion uint32
}

// metaReader decodes the key/value metadata stream. The error is
// latched: after the first failure every read is a no-op.
type metaReader struct {
	r   io.Reader
	err error
}

func (mr *metaReader) readU8() uint8 {
	if mr.err != nil {
		return 0
	}
	var buf [1]byte
	_, mr.err = io.ReadFull(mr.r, buf[:])
	return buf[0]
}

func (mr *metaReader) readU32() uint32 {
	if mr.err != nil {
		return 0
	}
	var buf [4]byte
	_, mr.err = io.ReadFull(mr.r, buf[:])
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func (mr *metaReader) readString() string {
	var sb strings.Builder
	for {
		c := mr.readU8()
		if mr.err != nil || c == 0 {
			return sb.String()
		}
		sb.WriteByte(c)
	}
}

// ReadMetadata parses the analyzer's reply to the metadata command.
// The stream is a sequence of tagged records terminated by a zero
// key; unknown tokens are skipped by type.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var (
		md      Metadata
		version []string
		mr      = metaReader{r: r}
	)

	for {
		key := mr.readU8()
		if mr.err != nil || key == 0 {
			break
		}
		typ := key >> 5
		token := key & 0x1f

		switch typ {
		case 0: // NUL-terminated string
			str := mr.readString()
			switch token {
			case 0x01:
				md.Name += str
			case 0x02:
				version = append(version, "FPGA version "+str)
			case 0x03:
				version = append(version, "Ancillary version "+str)
			}
		case 1: // 32-bit unsigned integer
			v := mr.readU32()
			switch token {
			case 0x00:
				md.NumProbes = int(v)
			case 0x01:
				md.MaxSamples = uint64(v)
			case 0x02:
				// dynamic memory size, unused
			case 0x03:
				md.MaxSampleRate = uint64(v)
			case 0x04:
				md.ProtocolVersion = v
			}
		case 2: // 8-bit unsigned integer
			v := mr.readU8()
			switch token {
			case 0x00:
				md.NumProbes = int(v)
			case 0x01:
				md.ProtocolVersion = uint32(v)
			}
		default:
			// unknown type, no length prefix to skip by
		}
	}

	md.Version = strings.Join(version, ", ")

	if mr.err != nil && mr.err != io.EOF && mr.err != io.ErrUnexpectedEOF {
		return md, xerrors.Errorf("ols: could not read metadata: %w", mr.err)
	}
	return md, nil
}
