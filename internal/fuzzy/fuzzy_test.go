package fuzzy

import "testing"

func TestSearch(t *testing.T) {
	haystack := "func main() {\n\tfmt.Println(\"hi\")\n}\n\nfunc other() {\n\tfmt.Println(\"hi\")\n}\n"

	tests := []struct {
		name            string
		needle          string
		caseInsensitive bool
		want            []SearchMatch
	}{
		{
			name:   "exact lines",
			needle: "func main() {\n\tfmt.Println(\"hi\")",
			want:   []SearchMatch{{StartLine: 0, EndLine: 1}},
		},
		{
			name:   "indentation drift",
			needle: "func main() {\n    fmt.Println(\"hi\")",
			want:   []SearchMatch{{StartLine: 0, EndLine: 1}},
		},
		{
			name:   "multiple matches in order",
			needle: "\tfmt.Println(\"hi\")\n}",
			want:   []SearchMatch{{StartLine: 1, EndLine: 2}, {StartLine: 5, EndLine: 6}},
		},
		{
			name:            "case insensitive",
			needle:          "FUNC OTHER() {",
			caseInsensitive: true,
			want:            []SearchMatch{{StartLine: 4, EndLine: 4}},
		},
		{
			name:   "case sensitive miss",
			needle: "FUNC OTHER() {",
			want:   nil,
		},
		{
			name:   "needle longer than haystack",
			needle: haystack + haystack,
			want:   nil,
		},
		{
			name:   "crlf needle against lf haystack",
			needle: "func main() {\r\n\tfmt.Println(\"hi\")\r\n}",
			want:   []SearchMatch{{StartLine: 0, EndLine: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Search(tt.needle, haystack, tt.caseInsensitive)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("match %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
