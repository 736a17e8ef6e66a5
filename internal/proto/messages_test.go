package proto

import (
	"encoding/base64"
	"testing"
)

func TestDecodeFromAgent(t *testing.T) {
	reg := NewRegister("agent-1", "box", "admintok", "sharetok", []InstanceInfo{{ID: "i1", Cwd: "/tmp"}})
	raw, err := Encode(reg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeFromAgent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(Register)
	if !ok {
		t.Fatalf("expected Register, got %T", decoded)
	}
	if got.AgentID != "agent-1" || len(got.ExistingInstances) != 1 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeFromUserVsServerToAgentTypeOverlap(t *testing.T) {
	// "create_instance" means different things on each channel; each
	// decoder must only accept its own shape.
	userRaw, _ := Encode(CreateInstanceReq{Type: TypeCreateInstance, Cwd: "/tmp"})
	if _, err := DecodeFromUser(userRaw); err != nil {
		t.Fatalf("decode user create_instance: %v", err)
	}

	agentRaw, _ := Encode(NewCreateInstance("inst-1", "/tmp"))
	if _, err := DecodeFromServerToAgent(agentRaw); err != nil {
		t.Fatalf("decode server->agent create_instance: %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeFromAgent([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("hello world\n"),
		{0x00, 0xFF, 0x10, 0x7F},
	}
	for _, b := range cases {
		enc := base64.StdEncoding.EncodeToString(b)
		dec, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(dec) != string(b) {
			t.Fatalf("round trip mismatch: %q != %q", dec, b)
		}
	}
}

func TestPTYOutputEnvelope(t *testing.T) {
	payload := []byte("some bytes\x00\x01")
	msg := NewPTYOutput("inst-1", base64.StdEncoding.EncodeToString(payload))
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeFromAgent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := decoded.(PTYOutput)
	got, err := base64.StdEncoding.DecodeString(out.DataB64)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %q != %q", got, payload)
	}
}
