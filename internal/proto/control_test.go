package proto_test

import (
	"encoding/binary"
	"testing"

	"github.com/chiselcore/skytun/internal/proto"
)

func TestParseKeyingRequest(t *testing.T) {
	buf := make([]byte, proto.KeyingRequestLen)
	binary.BigEndian.PutUint32(buf[0:4], 100)
	binary.BigEndian.PutUint32(buf[4:8], 200)
	for i := range buf[8:40] {
		buf[8+i] = byte(i)
	}

	req, err := proto.ParseKeyingRequest(buf)
	if err != nil {
		t.Fatalf("ParseKeyingRequest: %v", err)
	}
	if req.TXSPI != 100 || req.RXSPI != 200 {
		t.Fatalf("ParseKeyingRequest: got TXSPI=%d RXSPI=%d, want 100/200", req.TXSPI, req.RXSPI)
	}
	for i, b := range req.Secret {
		if b != byte(i) {
			t.Fatalf("Secret[%d]: got %d, want %d", i, b, i)
		}
	}
}

func TestParseKeyingRequestRejectsBadLength(t *testing.T) {
	if _, err := proto.ParseKeyingRequest(make([]byte, proto.KeyingRequestLen-1)); err == nil {
		t.Fatalf("ParseKeyingRequest with short buffer: got nil error, want non-nil")
	}
}

func TestStatusRecordRoundTrip(t *testing.T) {
	r := proto.StatusRecord{SPI: 7, PktCount: 1000, LastSeen: 1700000000, ByteCount: 9001}
	buf := make([]byte, proto.StatusRecordLen)
	proto.PutStatusRecord(buf, r)

	if got := proto.ParseStatusRecord(buf); got != r {
		t.Fatalf("ParseStatusRecord(PutStatusRecord(r)): got %+v, want %+v", got, r)
	}
}
