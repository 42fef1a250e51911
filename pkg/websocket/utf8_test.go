package websocket

import "testing"

func TestUTF8ValidatorWholeChunks(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{
			name:  "empty",
			input: []byte{},
		},
		{
			name:  "ascii",
			input: []byte("Hello, world"),
		},
		{
			name:  "two_byte_runes",
			input: []byte("héllo wörld"),
		},
		{
			name:  "three_byte_runes",
			input: []byte("こんにちは"),
		},
		{
			name:  "four_byte_runes",
			input: []byte("a\xf0\x9f\x98\x80b"),
		},
		{
			name:    "stray_continuation",
			input:   []byte{0x80},
			wantErr: true,
		},
		{
			name:    "overlong_two_byte",
			input:   []byte{0xc0, 0xaf},
			wantErr: true,
		},
		{
			name:    "overlong_three_byte",
			input:   []byte{0xe0, 0x80, 0xaf},
			wantErr: true,
		},
		{
			name:    "overlong_four_byte",
			input:   []byte{0xf0, 0x80, 0x80, 0xaf},
			wantErr: true,
		},
		{
			name:    "utf16_surrogate",
			input:   []byte{0xed, 0xa0, 0x80},
			wantErr: true,
		},
		{
			name:    "above_max_code_point",
			input:   []byte{0xf4, 0x90, 0x80, 0x80},
			wantErr: true,
		},
		{
			name:    "invalid_lead_byte",
			input:   []byte{0xff},
			wantErr: true,
		},
		{
			name:    "truncated_sequence_at_end",
			input:   []byte("abc\xe3\x81"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &utf8Validator{}
			err := v.feed(tt.input, true)
			if (err != nil) != tt.wantErr {
				t.Errorf("feed() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestUTF8ValidatorSplitSequences feeds valid multibyte text one byte
// at a time: every split must be accepted as long as the stream isn't
// finalized mid-rune.
func TestUTF8ValidatorSplitSequences(t *testing.T) {
	input := []byte("héllo こんにちは \xf0\x9f\x98\x80")

	v := &utf8Validator{}
	for i, b := range input {
		if err := v.feed([]byte{b}, i == len(input)-1); err != nil {
			t.Fatalf("feed() byte %d (0x%02x): unexpected error %v", i, b, err)
		}
	}
}

func TestUTF8ValidatorSplitInvalidContinuation(t *testing.T) {
	v := &utf8Validator{}
	if err := v.feed([]byte{0xe3}, false); err != nil {
		t.Fatalf("feed() lead byte: unexpected error %v", err)
	}
	if err := v.feed([]byte{0x41}, false); err == nil {
		t.Error("feed() ASCII after incomplete sequence: expected error")
	}
}

func TestUTF8ValidatorTruncatedAtFinal(t *testing.T) {
	v := &utf8Validator{}
	if err := v.feed([]byte{0xe3, 0x81}, false); err != nil {
		t.Fatalf("feed() partial sequence: unexpected error %v", err)
	}
	if err := v.feed(nil, true); err == nil {
		t.Error("feed() final with incomplete sequence: expected error")
	}
}

func TestUTF8ValidatorReset(t *testing.T) {
	v := &utf8Validator{}
	if err := v.feed([]byte{0xe3}, false); err != nil {
		t.Fatalf("feed() lead byte: unexpected error %v", err)
	}

	v.reset()
	if err := v.feed([]byte("clean slate"), true); err != nil {
		t.Errorf("feed() after reset: unexpected error %v", err)
	}
}
