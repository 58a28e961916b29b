// Package pkwire implements the native primary-key-read wire format of
// spec.md §6.1: a word-aligned (4-byte word), little-endian buffer layout
// used to pass read requests to, and responses back from, the storage
// cluster client (rdrs_dal). dal.StorageClient itself takes typed
// requests; internal/featurestore/rawpk encodes and decodes every planned
// read through this codec before submitting it, so the wire format itself
// stays exercised end to end.
package pkwire

import (
	"encoding/binary"
	"fmt"

	"github.com/logicalclocks/rdrs2go/internal/dal"
)

const wordSize = 4

// RDRSPKReqID is the request buffer's op-type tag (spec.md §6.1).
const RDRSPKReqID uint32 = 1

// builder accumulates a word-aligned buffer, tracking the next free byte
// offset so strings/arrays can be appended after the fixed header.
type builder struct {
	buf []byte
}

func newBuilder(headerWords int) *builder {
	return &builder{buf: make([]byte, headerWords*wordSize)}
}

func (b *builder) setWord(idx int, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[idx*wordSize:], v)
}

func (b *builder) offset() uint32 { return uint32(len(b.buf)) }

func (b *builder) padToWord() {
	for len(b.buf)%wordSize != 0 {
		b.buf = append(b.buf, 0)
	}
}

// appendString writes a length word followed by the NUL-terminated bytes,
// padded to the next word boundary, and returns the offset it was written
// at.
func (b *builder) appendString(s string) uint32 {
	off := b.offset()
	var lenWord [4]byte
	binary.LittleEndian.PutUint32(lenWord[:], uint32(len(s)))
	b.buf = append(b.buf, lenWord[:]...)
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0) // NUL terminator
	b.padToWord()
	return off
}

// appendBytes writes a length word followed by raw bytes, padded to a word
// boundary, and returns the offset.
func (b *builder) appendBytes(v []byte) uint32 {
	off := b.offset()
	var lenWord [4]byte
	binary.LittleEndian.PutUint32(lenWord[:], uint32(len(v)))
	b.buf = append(b.buf, lenWord[:]...)
	b.buf = append(b.buf, v...)
	b.padToWord()
	return off
}

func (b *builder) appendWord(v uint32) uint32 {
	off := b.offset()
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	b.buf = append(b.buf, w[:]...)
	return off
}

// EncodeRequest builds a request buffer per spec.md §6.1's header layout.
// respCapacity is the capacity to declare for the response buffer the
// caller will supply.
func EncodeRequest(req dal.PKReadRequest, respCapacity uint32) ([]byte, error) {
	b := newBuilder(9)

	dbOff := b.appendString(req.DB)
	tableOff := b.appendString(req.Table)

	filterArrayOff := b.appendFilters(req.Filters)

	var readColsOff uint32
	if len(req.ReadColumns) > 0 {
		readColsOff = b.appendReadColumns(req.ReadColumns)
	}

	var opIDOff uint32
	if req.OperationID != "" {
		opIDOff = b.appendString(req.OperationID)
	}

	b.setWord(0, RDRSPKReqID)
	b.setWord(1, respCapacity)
	b.setWord(2, uint32(len(b.buf)))
	b.setWord(3, 0) // flags
	b.setWord(4, dbOff)
	b.setWord(5, tableOff)
	b.setWord(6, filterArrayOff)
	b.setWord(7, readColsOff)
	b.setWord(8, opIDOff)

	return b.buf, nil
}

func (b *builder) appendFilters(filters []dal.Filter) uint32 {
	arrOff := b.offset()
	b.appendWord(uint32(len(filters)))
	// reserve one offset word per filter, fill in after writing each pair
	offsetsAt := make([]uint32, len(filters))
	for i := range filters {
		offsetsAt[i] = b.offset()
		b.appendWord(0)
	}
	for i, f := range filters {
		pairOff := b.offset()
		b.appendWord(0) // key_offset, filled below
		b.appendWord(0) // value_offset, filled below
		keyOff := b.appendString(f.Column)
		valOff := b.appendBytes(f.Value)
		b.setWord(int(pairOff)/wordSize, keyOff)
		b.setWord(int(pairOff)/wordSize+1, valOff)
		b.setWord(int(offsetsAt[i])/wordSize, pairOff)
	}
	return arrOff
}

func (b *builder) appendReadColumns(cols []dal.ReadColumn) uint32 {
	arrOff := b.offset()
	b.appendWord(uint32(len(cols)))
	offsetsAt := make([]uint32, len(cols))
	for i := range cols {
		offsetsAt[i] = b.offset()
		b.appendWord(0)
	}
	for i, c := range cols {
		pairOff := b.offset()
		b.setWord(int(offsetsAt[i])/wordSize, pairOff)
		b.appendWord(uint32(c.ReturnType))
		b.appendString(c.Name)
	}
	return arrOff
}

// --- decoding ---

type reader struct {
	buf []byte
}

func (r *reader) word(off uint32) (uint32, error) {
	if int(off)+wordSize > len(r.buf) {
		return 0, fmt.Errorf("pkwire: word offset %d out of range (len %d)", off, len(r.buf))
	}
	return binary.LittleEndian.Uint32(r.buf[off:]), nil
}

func (r *reader) headerWord(idx int) (uint32, error) { return r.word(uint32(idx * wordSize)) }

func (r *reader) str(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	n, err := r.word(off)
	if err != nil {
		return "", err
	}
	start := off + wordSize
	if int(start)+int(n) > len(r.buf) {
		return "", fmt.Errorf("pkwire: string at offset %d exceeds buffer", off)
	}
	return string(r.buf[start : start+n]), nil
}

func (r *reader) bytesAt(off uint32) ([]byte, error) {
	if off == 0 {
		return nil, nil
	}
	n, err := r.word(off)
	if err != nil {
		return nil, err
	}
	start := off + wordSize
	if int(start)+int(n) > len(r.buf) {
		return nil, fmt.Errorf("pkwire: bytes at offset %d exceeds buffer", off)
	}
	out := make([]byte, n)
	copy(out, r.buf[start:start+n])
	return out, nil
}

// DecodeRequest parses a request buffer produced by EncodeRequest (used by
// a fake storage-cluster client to recover the logical request).
func DecodeRequest(buf []byte) (dal.PKReadRequest, error) {
	r := &reader{buf: buf}
	opType, err := r.headerWord(0)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	if opType != RDRSPKReqID {
		return dal.PKReadRequest{}, fmt.Errorf("pkwire: unexpected op type %d", opType)
	}
	dbOff, err := r.headerWord(4)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	tableOff, err := r.headerWord(5)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	filterArrOff, err := r.headerWord(6)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	readColsOff, err := r.headerWord(7)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	opIDOff, err := r.headerWord(8)
	if err != nil {
		return dal.PKReadRequest{}, err
	}

	db, err := r.str(dbOff)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	table, err := r.str(tableOff)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	opID, err := r.str(opIDOff)
	if err != nil {
		return dal.PKReadRequest{}, err
	}

	filters, err := r.decodeFilters(filterArrOff)
	if err != nil {
		return dal.PKReadRequest{}, err
	}
	cols, err := r.decodeReadColumns(readColsOff)
	if err != nil {
		return dal.PKReadRequest{}, err
	}

	return dal.PKReadRequest{
		DB:          db,
		Table:       table,
		OperationID: opID,
		Filters:     filters,
		ReadColumns: cols,
	}, nil
}

func (r *reader) decodeFilters(arrOff uint32) ([]dal.Filter, error) {
	if arrOff == 0 {
		return nil, nil
	}
	count, err := r.word(arrOff)
	if err != nil {
		return nil, err
	}
	filters := make([]dal.Filter, 0, count)
	for i := uint32(0); i < count; i++ {
		entryOff := arrOff + wordSize + i*wordSize
		pairOff, err := r.word(entryOff)
		if err != nil {
			return nil, err
		}
		keyOff, err := r.word(pairOff)
		if err != nil {
			return nil, err
		}
		valOff, err := r.word(pairOff + wordSize)
		if err != nil {
			return nil, err
		}
		key, err := r.str(keyOff)
		if err != nil {
			return nil, err
		}
		val, err := r.bytesAt(valOff)
		if err != nil {
			return nil, err
		}
		filters = append(filters, dal.Filter{Column: key, Value: val})
	}
	return filters, nil
}

func (r *reader) decodeReadColumns(arrOff uint32) ([]dal.ReadColumn, error) {
	if arrOff == 0 {
		return nil, nil
	}
	count, err := r.word(arrOff)
	if err != nil {
		return nil, err
	}
	cols := make([]dal.ReadColumn, 0, count)
	for i := uint32(0); i < count; i++ {
		entryOff := arrOff + wordSize + i*wordSize
		pairOff, err := r.word(entryOff)
		if err != nil {
			return nil, err
		}
		retType, err := r.word(pairOff)
		if err != nil {
			return nil, err
		}
		nameOff := pairOff + wordSize
		name, err := r.str(nameOff)
		if err != nil {
			return nil, err
		}
		cols = append(cols, dal.ReadColumn{Name: name, ReturnType: int32(retType)})
	}
	return cols, nil
}

// --- response ---

// EncodeResponse builds a response buffer mirroring the request layout
// (spec.md §6.1): op_type, capacity, length, status, op_id offset, columns
// offset, message offset, followed by four-word column records.
func EncodeResponse(resp dal.PKReadResponse, capacity uint32) ([]byte, error) {
	b := newBuilder(7)

	opIDOff := uint32(0)
	if resp.OperationID != "" {
		opIDOff = b.appendString(resp.OperationID)
	}
	msgOff := uint32(0)
	if resp.Message != "" {
		msgOff = b.appendString(resp.Message)
	}

	colsOff := uint32(0)
	if len(resp.Columns) > 0 {
		colsOff = b.offset()
		b.appendWord(uint32(len(resp.Columns)))
		// reserve the contiguous four-word records, fill in after writing each name/value
		recsAt := int(b.offset()) / wordSize
		b.buf = append(b.buf, make([]byte, 4*wordSize*len(resp.Columns))...)
		for i, c := range resp.Columns {
			nameOff := b.appendString(c.Name)
			var valOff uint32
			if !c.IsNull {
				valOff = b.appendBytes(c.Value)
			}
			rec := recsAt + 4*i
			b.setWord(rec, nameOff)
			b.setWord(rec+1, valOff)
			b.setWord(rec+2, boolToWord(c.IsNull))
			b.setWord(rec+3, uint32(c.DataType))
		}
	}

	b.setWord(0, RDRSPKReqID)
	b.setWord(1, capacity)
	b.setWord(2, uint32(len(b.buf)))
	b.setWord(3, uint32(resp.Status))
	b.setWord(4, opIDOff)
	b.setWord(5, colsOff)
	b.setWord(6, msgOff)

	return b.buf, nil
}

func boolToWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// DecodeResponse parses a response buffer produced by EncodeResponse.
func DecodeResponse(buf []byte) (dal.PKReadResponse, error) {
	r := &reader{buf: buf}
	status, err := r.headerWord(3)
	if err != nil {
		return dal.PKReadResponse{}, err
	}
	opIDOff, err := r.headerWord(4)
	if err != nil {
		return dal.PKReadResponse{}, err
	}
	colsOff, err := r.headerWord(5)
	if err != nil {
		return dal.PKReadResponse{}, err
	}
	msgOff, err := r.headerWord(6)
	if err != nil {
		return dal.PKReadResponse{}, err
	}

	opID, err := r.str(opIDOff)
	if err != nil {
		return dal.PKReadResponse{}, err
	}
	msg, err := r.str(msgOff)
	if err != nil {
		return dal.PKReadResponse{}, err
	}

	var cols []dal.ColumnValue
	if colsOff != 0 {
		count, err := r.word(colsOff)
		if err != nil {
			return dal.PKReadResponse{}, err
		}
		pos := colsOff + wordSize
		for i := uint32(0); i < count; i++ {
			nameOff, err := r.word(pos)
			if err != nil {
				return dal.PKReadResponse{}, err
			}
			valOff, err := r.word(pos + wordSize)
			if err != nil {
				return dal.PKReadResponse{}, err
			}
			isNull, err := r.word(pos + 2*wordSize)
			if err != nil {
				return dal.PKReadResponse{}, err
			}
			dtype, err := r.word(pos + 3*wordSize)
			if err != nil {
				return dal.PKReadResponse{}, err
			}
			name, err := r.str(nameOff)
			if err != nil {
				return dal.PKReadResponse{}, err
			}
			var val []byte
			if isNull == 0 {
				val, err = r.bytesAt(valOff)
				if err != nil {
					return dal.PKReadResponse{}, err
				}
			}
			cols = append(cols, dal.ColumnValue{Name: name, Value: val, IsNull: isNull != 0, DataType: int32(dtype)})
			pos += 4 * wordSize
		}
	}

	return dal.PKReadResponse{
		OperationID: opID,
		Status:      int(status),
		Message:     msg,
		Columns:     cols,
	}, nil
}
