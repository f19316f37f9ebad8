package handlers

import (
	"bytes"
	"strings"
	"testing"
)

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "  yes  \n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
		{input: "maybe\n", want: false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		confirmer := NewPromptConfirmer(strings.NewReader(tt.input), &out)

		got, err := confirmer.Confirm("Delete preview database branch preview/pr-7?")
		if err != nil {
			t.Fatalf("Confirm(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q): expected %v, got %v", tt.input, tt.want, got)
		}
		if !strings.Contains(out.String(), "preview/pr-7? [y/N] ") {
			t.Errorf("Unexpected prompt: %q", out.String())
		}
	}
}

func TestAutoConfirmer(t *testing.T) {
	for _, answer := range []bool{true, false} {
		got, err := AutoConfirmer{Answer: answer}.Confirm("anything?")
		if err != nil || got != answer {
			t.Errorf("Expected %v, got %v (%v)", answer, got, err)
		}
	}
}
