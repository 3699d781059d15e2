package sanitize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "empty", in: "", max: 10, want: ""},
		{name: "plain text untouched", in: "hello world", max: 0, want: "hello world"},
		{name: "tags stripped", in: "<p>The <b>Go team</b> is happy.</p>", max: 0, want: "The Go team is happy."},
		{name: "script removed", in: "safe<script>alert(1)</script>", max: 0, want: "safe"},
		{name: "entities decoded", in: "Tom &amp; Jerry", max: 0, want: "Tom & Jerry"},
		{name: "whitespace collapsed", in: "<p>a</p>\n\n<p>b</p>", max: 0, want: "a b"},
		{name: "truncated", in: "<p>abcdefghij</p>", max: 4, want: "abcd..."},
		{name: "multibyte truncation", in: "résumé café", max: 6, want: "résumé..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Plain(tt.in, tt.max)); diff != "" {
				t.Errorf("Plain mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
