package websocket

import (
	"bytes"
	"testing"
)

func TestMessageWriterSingleFrame(t *testing.T) {
	w := NewTextMessage("Hello")

	got := w.createFrame()
	want := []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f}
	if !bytes.Equal(got, want) {
		t.Errorf("createFrame() = %v, want %v", got, want)
	}

	if next := w.createFrame(); next != nil {
		t.Errorf("createFrame() after final frame = %v, want nil", next)
	}
}

func TestMessageWriterEmptyPayload(t *testing.T) {
	w := NewBinaryMessage(nil)

	got := w.createFrame()
	want := []byte{0x82, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("createFrame() = %v, want %v", got, want)
	}

	if next := w.createFrame(); next != nil {
		t.Errorf("createFrame() after final frame = %v, want nil", next)
	}
}

func TestMessageWriterFragmentation(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 25) // 100 bytes.
	w := newMessageWriter(payload, OpcodeBinary, 40)

	var frames []parsedFrame
	var reassembled []byte
	for {
		b := w.createFrame()
		if b == nil {
			break
		}
		fs, err := parseServerFrames(b)
		if err != nil {
			t.Fatalf("failed to parse frame: %v", err)
		}
		frames = append(frames, fs...)
		reassembled = append(reassembled, fs[0].payload...)
	}

	if len(frames) != 3 {
		t.Fatalf("frame count = %d, want 3", len(frames))
	}

	wantOpcodes := []Opcode{OpcodeBinary, OpcodeContinuation, OpcodeContinuation}
	wantFins := []bool{false, false, true}
	for i, f := range frames {
		if f.opcode != wantOpcodes[i] {
			t.Errorf("frame %d opcode = %v, want %v", i, f.opcode, wantOpcodes[i])
		}
		if f.fin != wantFins[i] {
			t.Errorf("frame %d fin = %v, want %v", i, f.fin, wantFins[i])
		}
	}

	if !bytes.Equal(reassembled, payload) {
		t.Errorf("reassembled %d bytes, want %d", len(reassembled), len(payload))
	}
}

func TestMessageWriterExactMultipleOfChunk(t *testing.T) {
	w := newMessageWriter(make([]byte, 80), OpcodeBinary, 40)

	var count int
	var lastFin bool
	for {
		b := w.createFrame()
		if b == nil {
			break
		}
		count++
		lastFin = b[0]&0x80 != 0
	}

	if count != 2 {
		t.Errorf("frame count = %d, want 2", count)
	}
	if !lastFin {
		t.Error("final frame does not have FIN set")
	}
}

func TestMessageWriterDefaultChunkSize(t *testing.T) {
	w := NewBinaryMessage(make([]byte, 200*1024))

	var count int
	for w.createFrame() != nil {
		count++
	}

	// 200 KiB at the default chunk size fragments into 13 frames.
	if count != 13 {
		t.Errorf("frame count = %d, want 13", count)
	}
}
