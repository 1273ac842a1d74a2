package proto

import (
	"encoding/binary"
	"fmt"
)

// KeyingRequestLen is the fixed size of a keying control-plane request:
// 4-byte tx_spi || 4-byte rx_spi || 32-byte shared secret.
const KeyingRequestLen = 4 + 4 + 32

// KeyingRequest is a request on the keying worker's local datagram socket.
type KeyingRequest struct {
	TXSPI  uint32
	RXSPI  uint32
	Secret [32]byte
}

// ParseKeyingRequest parses buf, which must be exactly KeyingRequestLen
// bytes. A length mismatch is reported so the caller can silently ignore
// the datagram rather than treat it as fatal.
func ParseKeyingRequest(buf []byte) (KeyingRequest, error) {
	var req KeyingRequest
	if len(buf) != KeyingRequestLen {
		return req, fmt.Errorf("proto: keying request length %d, want %d", len(buf), KeyingRequestLen)
	}
	req.TXSPI = binary.BigEndian.Uint32(buf[0:4])
	req.RXSPI = binary.BigEndian.Uint32(buf[4:8])
	copy(req.Secret[:], buf[8:40])
	return req, nil
}

// Operator control-plane commands.
const (
	CmdStatus = 1
)

// StatusRecordLen is the fixed size of one direction's status record:
// u32 spi, u64 pkt_count, u64 last_seen_seconds, u64 bytes.
const StatusRecordLen = 4 + 8 + 8 + 8

// StatusRecord mirrors one direction's observability counters on the wire.
type StatusRecord struct {
	SPI       uint32
	PktCount  uint64
	LastSeen  uint64
	ByteCount uint64
}

// StatusResponseLen is the fixed size of a STATUS response: tx record
// followed by rx record.
const StatusResponseLen = 2 * StatusRecordLen

// PutStatusRecord writes r to buf[0:StatusRecordLen].
func PutStatusRecord(buf []byte, r StatusRecord) {
	binary.BigEndian.PutUint32(buf[0:4], r.SPI)
	binary.BigEndian.PutUint64(buf[4:12], r.PktCount)
	binary.BigEndian.PutUint64(buf[12:20], r.LastSeen)
	binary.BigEndian.PutUint64(buf[20:28], r.ByteCount)
}

// ParseStatusRecord reads a StatusRecord from buf[0:StatusRecordLen].
func ParseStatusRecord(buf []byte) StatusRecord {
	return StatusRecord{
		SPI:       binary.BigEndian.Uint32(buf[0:4]),
		PktCount:  binary.BigEndian.Uint64(buf[4:12]),
		LastSeen:  binary.BigEndian.Uint64(buf[12:20]),
		ByteCount: binary.BigEndian.Uint64(buf[20:28]),
	}
}
