package util

import (
	"reflect"
	"testing"
)

func TestSplitItems(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{"comma separated", "a, b ,c", 3, []string{"a", "b", "c"}},
		{"newline separated", "first\nsecond\n\nthird", 3, []string{"first", "second", "third"}},
		{"capped", "1,2,3,4,5", 3, []string{"1", "2", "3"}},
		{"uncapped", "1,2,3,4", 0, []string{"1", "2", "3", "4"}},
		{"single", "  Завершить проект  ", 3, []string{"Завершить проект"}},
		{"only separators", " , ,\n", 3, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitItems(tt.in, tt.max); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitItems(%q, %d) = %#v, want %#v", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("привет", 10); got != "привет" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("привет мир", 5); got != "прив…" {
		t.Errorf("Truncate long = %q, want прив…", got)
	}
}
