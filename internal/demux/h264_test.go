package demux

import "testing"

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		sps           []byte
		width, height int
		codec         string
	}{
		{
			name: "720p high",
			sps: []byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
				0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
				0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
			},
			width: 1280, height: 720,
			codec: "avc1.64001F",
		},
		{
			name: "256x192 main",
			sps: []byte{
				0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
				0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
				0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
				0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
				0x3a, 0x8e, 0x18, 0xc9,
			},
			width: 256, height: 192,
			codec: "avc1.4D401F",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseSPS(tt.sps)
			if err != nil {
				t.Fatalf("ParseSPS error: %v", err)
			}
			if info.Width != tt.width || info.Height != tt.height {
				t.Errorf("size: got %dx%d, want %dx%d", info.Width, info.Height, tt.width, tt.height)
			}
			if got := info.CodecString(); got != tt.codec {
				t.Errorf("CodecString() = %q, want %q", got, tt.codec)
			}
		})
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{nil, {}, {0x67, 0x64, 0x00}, {0x67, 0x64, 0x00, 0x1f}} {
		if _, err := ParseSPS(in); err == nil {
			t.Errorf("ParseSPS(% X): expected error", in)
		}
	}
}

func TestIsVCL(t *testing.T) {
	t.Parallel()
	for typ := byte(0); typ < 32; typ++ {
		want := typ >= 1 && typ <= 5
		if got := IsVCL(typ); got != want {
			t.Errorf("IsVCL(%d) = %v, want %v", typ, got, want)
		}
	}
}
