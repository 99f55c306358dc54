// Package cxdb implements the remote Turn Store backend: a framed
// binary/TCP protocol for low-latency operations (append, head, blobs) and
// an HTTP client for cursor-paged listing and registry bundles, per spec.md
// §6.1/§6.2. Bit-exact grounding: original_source forge-cxdb/src/protocol.rs.
package cxdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType enumerates the binary protocol's message types.
type MsgType uint16

const (
	MsgHello      MsgType = 1
	MsgCtxCreate  MsgType = 2
	MsgCtxFork    MsgType = 3
	MsgGetHead    MsgType = 4
	MsgAppendTurn MsgType = 5
	MsgGetLast    MsgType = 6
	MsgGetBlob    MsgType = 9
	MsgAttachFS   MsgType = 10
	MsgPutBlob    MsgType = 11
	MsgError      MsgType = 255
)

// Encoding identifies the payload codec used inside an APPEND_TURN frame.
type Encoding uint32

const (
	EncodingRaw     Encoding = 0
	EncodingMsgPack Encoding = 1
)

// Compression identifies the payload compression used inside an
// APPEND_TURN/GET_LAST frame.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// MaxFrameSize is the maximum allowed payload length (64 MiB). Frames whose
// header declares a larger payload_len are rejected client-side as an
// invalid-response error.
const MaxFrameSize = 64 * 1024 * 1024

// FlagHasFSRoot marks an APPEND_TURN frame as carrying a trailing 32-byte
// fs_root_hash.
const FlagHasFSRoot uint16 = 1

// Frame is one wire message: header plus payload.
type Frame struct {
	MsgType MsgType
	Flags   uint16
	ReqID   uint64
	Payload []byte
}

// WriteFrame writes a length-prefixed, little-endian frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("cxdb: frame payload of %d bytes exceeds max frame size", len(f.Payload))
	}
	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint16(header[4:6], uint16(f.MsgType))
	binary.LittleEndian.PutUint16(header[6:8], f.Flags)
	binary.LittleEndian.PutUint64(header[8:16], f.ReqID)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads one length-prefixed, little-endian frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	if payloadLen > MaxFrameSize {
		return Frame{}, fmt.Errorf("cxdb: frame declares payload of %d bytes, exceeds max frame size", payloadLen)
	}
	f := Frame{
		MsgType: MsgType(binary.LittleEndian.Uint16(header[4:6])),
		Flags:   binary.LittleEndian.Uint16(header[6:8]),
		ReqID:   binary.LittleEndian.Uint64(header[8:16]),
	}
	f.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}
	return f, nil
}
