package cxdb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AppendTurnRequest is the payload body of an APPEND_TURN frame.
type AppendTurnRequest struct {
	ContextID       uint64
	ParentTurnID    uint64
	TypeID          string
	TypeVersion     uint32
	Encoding        Encoding
	Compression     Compression
	UncompressedLen uint32
	BlobHash        [32]byte
	Payload         []byte
	IdempotencyKey  string
	FSRootHash      *[32]byte // present iff flags & FlagHasFSRoot
}

// Encode renders an AppendTurnRequest to its wire payload bytes, per
// spec.md §6.1:
//
//	u64 context_id | u64 parent_turn_id | u32 type_id_len | type_id bytes |
//	u32 type_version | u32 encoding | u32 compression | u32 uncompressed_len |
//	u8[32] blake3_hash | u32 payload_len | payload bytes |
//	u32 idempotency_key_len | key bytes | [u8[32] fs_root_hash if flags & 1]
func (r AppendTurnRequest) Encode() (payload []byte, flags uint16) {
	buf := make([]byte, 0, 64+len(r.TypeID)+len(r.Payload)+len(r.IdempotencyKey))
	buf = appendU64(buf, r.ContextID)
	buf = appendU64(buf, r.ParentTurnID)
	buf = appendU32(buf, uint32(len(r.TypeID)))
	buf = append(buf, r.TypeID...)
	buf = appendU32(buf, r.TypeVersion)
	buf = appendU32(buf, uint32(r.Encoding))
	buf = appendU32(buf, uint32(r.Compression))
	buf = appendU32(buf, r.UncompressedLen)
	buf = append(buf, r.BlobHash[:]...)
	buf = appendU32(buf, uint32(len(r.Payload)))
	buf = append(buf, r.Payload...)
	buf = appendU32(buf, uint32(len(r.IdempotencyKey)))
	buf = append(buf, r.IdempotencyKey...)
	if r.FSRootHash != nil {
		buf = append(buf, r.FSRootHash[:]...)
		flags |= FlagHasFSRoot
	}
	return buf, flags
}

// DecodeAppendTurnRequest parses the payload produced by Encode.
func DecodeAppendTurnRequest(payload []byte, flags uint16) (AppendTurnRequest, error) {
	r := reader{buf: payload}
	var req AppendTurnRequest
	req.ContextID = r.u64()
	req.ParentTurnID = r.u64()
	typeLen := r.u32()
	req.TypeID = string(r.bytes(int(typeLen)))
	req.TypeVersion = r.u32()
	req.Encoding = Encoding(r.u32())
	req.Compression = Compression(r.u32())
	req.UncompressedLen = r.u32()
	copy(req.BlobHash[:], r.bytes(32))
	payloadLen := r.u32()
	req.Payload = r.bytes(int(payloadLen))
	keyLen := r.u32()
	req.IdempotencyKey = string(r.bytes(int(keyLen)))
	if flags&FlagHasFSRoot != 0 {
		var h [32]byte
		copy(h[:], r.bytes(32))
		req.FSRootHash = &h
	}
	return req, r.err
}

// AppendTurnResponse is the payload body of a successful APPEND_TURN reply:
// u64 context_id | u64 turn_id | u32 depth | u8[32] payload_hash.
type AppendTurnResponse struct {
	ContextID  uint64
	TurnID     uint64
	Depth      uint32
	PayloadHash [32]byte
}

func (r AppendTurnResponse) Encode() []byte {
	buf := make([]byte, 0, 8+8+4+32)
	buf = appendU64(buf, r.ContextID)
	buf = appendU64(buf, r.TurnID)
	buf = appendU32(buf, r.Depth)
	buf = append(buf, r.PayloadHash[:]...)
	return buf
}

func DecodeAppendTurnResponse(payload []byte) (AppendTurnResponse, error) {
	r := reader{buf: payload}
	var resp AppendTurnResponse
	resp.ContextID = r.u64()
	resp.TurnID = r.u64()
	resp.Depth = r.u32()
	copy(resp.PayloadHash[:], r.bytes(32))
	return resp, r.err
}

// GetLastRequest is the payload body of a GET_LAST frame:
// u64 context_id | u32 limit | u32 include_payload.
type GetLastRequest struct {
	ContextID      uint64
	Limit          uint32
	IncludePayload bool
}

func (r GetLastRequest) Encode() []byte {
	buf := make([]byte, 0, 16)
	buf = appendU64(buf, r.ContextID)
	buf = appendU32(buf, r.Limit)
	include := uint32(0)
	if r.IncludePayload {
		include = 1
	}
	buf = appendU32(buf, include)
	return buf
}

func DecodeGetLastRequest(payload []byte) (GetLastRequest, error) {
	r := reader{buf: payload}
	var req GetLastRequest
	req.ContextID = r.u64()
	req.Limit = r.u32()
	req.IncludePayload = r.u32() != 0
	return req, r.err
}

// TurnRecord is one record inside a GET_LAST response.
type TurnRecord struct {
	TurnID          uint64
	ParentID        uint64
	Depth           uint32
	TypeID          string
	TypeVersion     uint32
	Encoding        Encoding
	Compression     Compression
	UncompressedLen uint32
	Hash            [32]byte
	Payload         []byte
}

// GetLastResponse is the payload body of a successful GET_LAST reply:
// u32 count followed by count TurnRecords.
type GetLastResponse struct {
	Records []TurnRecord
}

func (resp GetLastResponse) Encode() []byte {
	buf := appendU32(nil, uint32(len(resp.Records)))
	for _, rec := range resp.Records {
		buf = appendU64(buf, rec.TurnID)
		buf = appendU64(buf, rec.ParentID)
		buf = appendU32(buf, rec.Depth)
		buf = appendU32(buf, uint32(len(rec.TypeID)))
		buf = append(buf, rec.TypeID...)
		buf = appendU32(buf, rec.TypeVersion)
		buf = appendU32(buf, uint32(rec.Encoding))
		buf = appendU32(buf, uint32(rec.Compression))
		buf = appendU32(buf, rec.UncompressedLen)
		buf = append(buf, rec.Hash[:]...)
		buf = appendU32(buf, uint32(len(rec.Payload)))
		buf = append(buf, rec.Payload...)
	}
	return buf
}

func DecodeGetLastResponse(payload []byte) (GetLastResponse, error) {
	r := reader{buf: payload}
	count := r.u32()
	resp := GetLastResponse{Records: make([]TurnRecord, 0, count)}
	for i := uint32(0); i < count && r.err == nil; i++ {
		var rec TurnRecord
		rec.TurnID = r.u64()
		rec.ParentID = r.u64()
		rec.Depth = r.u32()
		typeLen := r.u32()
		rec.TypeID = string(r.bytes(int(typeLen)))
		rec.TypeVersion = r.u32()
		rec.Encoding = Encoding(r.u32())
		rec.Compression = Compression(r.u32())
		rec.UncompressedLen = r.u32()
		copy(rec.Hash[:], r.bytes(32))
		payloadLen := r.u32()
		rec.Payload = r.bytes(int(payloadLen))
		resp.Records = append(resp.Records, rec)
	}
	return resp, r.err
}

// PutBlobRequest is the payload body of a PUT_BLOB frame:
// u8[32] hash | u32 data_len | data.
type PutBlobRequest struct {
	Hash [32]byte
	Data []byte
}

func (r PutBlobRequest) Encode() []byte {
	buf := make([]byte, 0, 36+len(r.Data))
	buf = append(buf, r.Hash[:]...)
	buf = appendU32(buf, uint32(len(r.Data)))
	buf = append(buf, r.Data...)
	return buf
}

func DecodePutBlobRequest(payload []byte) (PutBlobRequest, error) {
	r := reader{buf: payload}
	var req PutBlobRequest
	copy(req.Hash[:], r.bytes(32))
	dataLen := r.u32()
	req.Data = r.bytes(int(dataLen))
	return req, r.err
}

// PutBlobResponse is the payload body of a successful PUT_BLOB reply:
// u8[32] hash | u8 was_new.
type PutBlobResponse struct {
	Hash  [32]byte
	WasNew bool
}

func (r PutBlobResponse) Encode() []byte {
	buf := make([]byte, 0, 33)
	buf = append(buf, r.Hash[:]...)
	if r.WasNew {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func DecodePutBlobResponse(payload []byte) (PutBlobResponse, error) {
	r := reader{buf: payload}
	var resp PutBlobResponse
	copy(resp.Hash[:], r.bytes(32))
	resp.WasNew = r.byte() != 0
	return resp, r.err
}

// AttachFSRequest is the payload body of an ATTACH_FS frame:
// u64 turn_id | u8[32] fs_root_hash.
type AttachFSRequest struct {
	TurnID     uint64
	FSRootHash [32]byte
}

func (r AttachFSRequest) Encode() []byte {
	buf := appendU64(nil, r.TurnID)
	return append(buf, r.FSRootHash[:]...)
}

func DecodeAttachFSRequest(payload []byte) (AttachFSRequest, error) {
	r := reader{buf: payload}
	var req AttachFSRequest
	req.TurnID = r.u64()
	copy(req.FSRootHash[:], r.bytes(32))
	return req, r.err
}

// GetBlobRequest is the payload body of a GET_BLOB frame: u8[32] hash.
type GetBlobRequest struct {
	Hash [32]byte
}

func (r GetBlobRequest) Encode() []byte { return append([]byte{}, r.Hash[:]...) }

func DecodeGetBlobRequest(payload []byte) (GetBlobRequest, error) {
	r := reader{buf: payload}
	var req GetBlobRequest
	copy(req.Hash[:], r.bytes(32))
	return req, r.err
}

// GetBlobResponse is the payload body of a GET_BLOB reply: absent marker
// (u8 present=0) or u32 len | bytes (u8 present=1, then len, then data).
type GetBlobResponse struct {
	Present bool
	Data    []byte
}

func (r GetBlobResponse) Encode() []byte {
	if !r.Present {
		return []byte{0}
	}
	buf := []byte{1}
	buf = appendU32(buf, uint32(len(r.Data)))
	return append(buf, r.Data...)
}

func DecodeGetBlobResponse(payload []byte) (GetBlobResponse, error) {
	r := reader{buf: payload}
	present := r.byte()
	if present == 0 {
		return GetBlobResponse{Present: false}, r.err
	}
	dataLen := r.u32()
	return GetBlobResponse{Present: true, Data: r.bytes(int(dataLen))}, r.err
}

// ErrorResponse is the payload body of an ERROR frame: u32 code | utf8 detail.
type ErrorResponse struct {
	Code   uint32
	Detail string
}

func (r ErrorResponse) Encode() []byte {
	buf := appendU32(nil, r.Code)
	return append(buf, r.Detail...)
}

func DecodeErrorResponse(payload []byte) (ErrorResponse, error) {
	r := reader{buf: payload}
	code := r.u32()
	detail := string(r.bytes(len(payload) - 4))
	return ErrorResponse{Code: code, Detail: detail}, r.err
}

func (r ErrorResponse) Error() string {
	return fmt.Sprintf("cxdb: remote error %d: %s", r.Code, r.Detail)
}

func appendU32(buf []byte, v uint32) []byte {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	return append(buf, scratch[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], v)
	return append(buf, scratch[:]...)
}

// reader sequentially consumes fixed/variable-width fields from a byte
// slice, latching the first out-of-range error encountered.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = errors.New("cxdb: truncated frame payload")
		return false
	}
	return true
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) bytes(n int) []byte {
	if n < 0 || !r.need(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}
