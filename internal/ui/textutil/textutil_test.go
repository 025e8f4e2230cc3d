package textutil

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"com.example.verylongpackage", 12, "com.example…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
		{"日本語テキスト", 7, "日本語…"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("CPU", 6); got != "CPU   " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("Temperature", 6); Width(got) != 6 {
		t.Errorf("PadRight width = %d, want 6 (%q)", Width(got), got)
	}
	if got := PadRight("日本", 6); Width(got) != 6 {
		t.Errorf("PadRight wide width = %d, want 6", Width(got))
	}
}
