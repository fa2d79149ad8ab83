package tmcl

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// serveOnce reads one 9-byte TMCL request off conn and writes back a
// 9-byte reply reporting status "100" (no error) with the given value.
func serveOnce(t *testing.T, conn net.Conn, value int32) [9]byte {
	t.Helper()
	var req [9]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		t.Fatalf("server: read request: %v", err)
	}
	reply := [9]byte{2, req[1], 100, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(reply[4:8], uint32(value))
	if _, err := conn.Write(reply[:]); err != nil {
		t.Fatalf("server: write reply: %v", err)
	}
	return req
}

func TestMotorMoveAbsoluteNonBlocking(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	reqCh := make(chan [9]byte, 1)
	go func() { reqCh <- serveOnce(t, server, 0) }()

	m := NewMotor(client, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.MoveAbsolute(ctx, 12345, false); err != nil {
		t.Fatalf("MoveAbsolute() error = %v", err)
	}

	req := <-reqCh
	if req[0] != 1 {
		t.Errorf("request address = %d, want 1", req[0])
	}
	if req[1] != instrMVP {
		t.Errorf("request instruction = %d, want %d (MVP)", req[1], instrMVP)
	}
	if req[2] != typeMVPAbsolute {
		t.Errorf("request type = %d, want %d (absolute)", req[2], typeMVPAbsolute)
	}
	if got := int32(binary.BigEndian.Uint32(req[4:8])); got != 12345 {
		t.Errorf("request value = %d, want 12345", got)
	}
	var sum byte
	for _, b := range req[:8] {
		sum += b
	}
	if req[8] != sum {
		t.Errorf("request checksum = %d, want %d (sum of first 8 bytes)", req[8], sum)
	}
}

func TestMotorCurrentPosition(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() { serveOnce(t, server, -42) }()

	m := NewMotor(client, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := m.CurrentPosition(ctx)
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if got != -42 {
		t.Errorf("CurrentPosition() = %d, want -42", got)
	}
}

func TestMotorDetectsProtocolMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		var req [9]byte
		if _, err := io.ReadFull(server, req[:]); err != nil {
			return
		}
		reply := [9]byte{9, req[1], 100, 0, 0, 0, 0, 0, 0} // wrong address byte
		server.Write(reply[:])
	}()

	m := NewMotor(client, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := m.CurrentPosition(ctx); err == nil {
		t.Fatal("expected protocol mismatch error")
	}
}

func TestMotorReportsModuleErrorStatus(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		var req [9]byte
		if _, err := io.ReadFull(server, req[:]); err != nil {
			return
		}
		reply := [9]byte{2, req[1], 1, 0, 0, 0, 0, 0, 0} // status 1: some error
		server.Write(reply[:])
	}()

	m := NewMotor(client, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := m.CurrentPosition(ctx); err == nil {
		t.Fatal("expected module error status to surface as an error")
	}
}
