package security

import "testing"

func TestSanitize_RemovesHTMLTags(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "Taro Yamada", "Taro Yamada"},
		{"bold tag", "<b>Taro</b> Yamada", "Taro Yamada"},
		{"script tag with content", "<script>alert(1)</script>Taro", "Taro"},
		{"img onerror", `<img src=x onerror=alert(1)>Taro`, "Taro"},
		{"nested tags", "<div><span>Taro</span></div>", "Taro"},
		{"leading and trailing space", "  Taro  ", "Taro"},
		{"empty", "", ""},
		{"only tags", "<script>alert(1)</script>", ""},
		{"japanese", "山田 太郎", "山田 太郎"},
		{"emoji", "Taro 🚀", "Taro 🚀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewProfileSanitizer()

	input := "<b>Taro</b> Yamada"
	once := s.Sanitize(input)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize is not idempotent: %q != %q", once, twice)
	}
}
