package utils

import (
	"strings"
	"testing"
)

func TestChecksum(t *testing.T) {
	data := []byte("workspace payload")

	c := NewChecksum()
	for _, part := range strings.SplitAfter(string(data), " ") {
		if _, err := c.Write([]byte(part)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if got, want := c.Sum(), ComputeSHA256(data); got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain name",
			input: "lecture.mp3",
			want:  "lecture.mp3",
		},
		{
			name:  "strips directories",
			input: "../../etc/passwd",
			want:  "passwd",
		},
		{
			name:  "windows separators",
			input: `C:\Users\me\notes.wav`,
			want:  "notes.wav",
		},
		{
			name:  "reserved characters replaced",
			input: "a<b>c?.ogg",
			want:  "a_b_c_.ogg",
		},
		{
			name:  "leading dots removed",
			input: ".hidden.m4a",
			want:  "hidden.m4a",
		},
		{
			name:  "dot dot only",
			input: "..",
			want:  "",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFileName(tt.input); got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercase", input: "a.mp3", want: ".mp3"},
		{name: "uppercase", input: "A.WAV", want: ".wav"},
		{name: "none", input: "README", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extension(tt.input); got != tt.want {
				t.Errorf("Extension() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{
			name:  "bytes",
			bytes: 512,
			want:  "512 B",
		},
		{
			name:  "kilobytes",
			bytes: 1536, // 1.5 KB
			want:  "1.5 KB",
		},
		{
			name:  "megabytes",
			bytes: 1048576, // 1 MB
			want:  "1.0 MB",
		},
		{
			name:  "gigabytes",
			bytes: 1 << 30,
			want:  "1.0 GB",
		},
		{
			name:  "zero bytes",
			bytes: 0,
			want:  "0 B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}
