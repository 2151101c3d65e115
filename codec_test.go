// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	riverjson "github.com/replit/river/codec/json"
	"github.com/replit/river/codec/msgpack"
)

func sampleMessage() *TransportMessage {
	return &TransportMessage{
		ID:           "ab1234567890",
		From:         "c",
		To:           "s",
		Seq:          3,
		Ack:          2,
		Payload:      map[string]any{"nested": []any{int64(1), "two", true, nil}},
		StreamID:     "xz1234567890",
		ControlFlags: FlagStreamOpen,
		ServiceName:  "svc",
		ProcedureName: "proc",
	}
}

func TestAdapterRoundTrip(t *testing.T) {
	for _, codec := range []Codec{riverjson.New(), msgpack.New()} {
		t.Run(codec.Name(), func(t *testing.T) {
			adapter := NewAdapter(codec)
			msg := sampleMessage()

			buf, err := adapter.ToBytes(msg)
			if err != nil {
				t.Fatalf("ToBytes: %v", err)
			}
			got, err := adapter.FromBytes(buf)
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			if diff := cmp.Diff(msg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdapterRoundTripBytesPayload(t *testing.T) {
	for _, codec := range []Codec{riverjson.New(), msgpack.New()} {
		t.Run(codec.Name(), func(t *testing.T) {
			adapter := NewAdapter(codec)
			msg := sampleMessage()
			msg.Payload = map[string]any{"blob": []byte{0x00, 0x01, 0xff, 'h', 'i'}}

			buf, err := adapter.ToBytes(msg)
			if err != nil {
				t.Fatalf("ToBytes: %v", err)
			}
			got, err := adapter.FromBytes(buf)
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			gotPayload, ok := got.Payload.(map[string]any)
			if !ok {
				t.Fatalf("payload is %T, want map[string]any", got.Payload)
			}
			gotBlob, ok := gotPayload["blob"].([]byte)
			if !ok {
				t.Fatalf("blob is %T, want []byte", gotPayload["blob"])
			}
			if diff := cmp.Diff([]byte{0x00, 0x01, 0xff, 'h', 'i'}, gotBlob); diff != "" {
				t.Errorf("blob round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdapterFromBytesMissingField(t *testing.T) {
	adapter := NewAdapter(riverjson.New())
	buf, err := riverjson.New().ToBytes(map[string]any{
		"id": "x", "from": "c", "to": "s", "seq": int64(0), "ack": int64(0), "payload": nil,
		// streamId and controlFlags deliberately omitted
	})
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if _, err := adapter.FromBytes(buf); err == nil {
		t.Fatal("expected error for missing required field, got nil")
	}
}
