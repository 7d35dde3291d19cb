package hls

import (
	"reflect"
	"testing"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		raw      string
		wantKind LineKind
		wantTag  string
	}{
		{raw: "", wantKind: LineBlank},
		{raw: "   \r", wantKind: LineBlank},
		{raw: "#EXTM3U", wantKind: LineTag, wantTag: "#EXTM3U"},
		{raw: "#EXTINF:10.0,", wantKind: LineTag, wantTag: "#EXTINF"},
		{raw: "#EXT-X-KEY:METHOD=AES-128", wantKind: LineTag, wantTag: "#EXT-X-KEY"},
		{raw: "# just a comment", wantKind: LineComment},
		{raw: "seg0.ts", wantKind: LineURI},
		{raw: "  https://cdn.example/seg.ts  ", wantKind: LineURI},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ClassifyLine(tt.raw)
			if got.Kind != tt.wantKind {
				t.Errorf("expected kind %d, got %d", tt.wantKind, got.Kind)
			}
			if got.Tag != tt.wantTag {
				t.Errorf("expected tag %q, got %q", tt.wantTag, got.Tag)
			}
		})
	}
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{
			name: "quoted and bare values",
			in:   `METHOD=AES-128,URI="key.bin",IV=0x1234`,
			want: map[string]string{"METHOD": "AES-128", "URI": "key.bin", "IV": "0x1234"},
		},
		{
			name: "bare uri",
			in:   `METHOD=AES-128,URI=key.bin`,
			want: map[string]string{"METHOD": "AES-128", "URI": "key.bin"},
		},
		{
			name: "quoted value containing commas",
			in:   `BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720`,
			want: map[string]string{"BANDWIDTH": "1280000", "CODECS": "avc1.4d401f,mp4a.40.2", "RESOLUTION": "1280x720"},
		},
		{
			name: "lower-case keys are normalised",
			in:   `type=AUDIO,name="English"`,
			want: map[string]string{"TYPE": "AUDIO", "NAME": "English"},
		},
		{
			name: "unterminated quote keeps the rest",
			in:   `URI="key.bin`,
			want: map[string]string{"URI": "key.bin"},
		},
		{
			name: "empty",
			in:   "",
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAttributes(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
