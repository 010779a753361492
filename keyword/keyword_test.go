package keyword

import "testing"

func TestContains(t *testing.T) {
	tests := []struct {
		text string
		kw   string
		want bool
	}{
		{"BASED tho", "based", true},
		{"based tho", "based", true},
		{"BaSeD tho", "based", true},
		{"this is based", "BASED", true},
		{"cringe", "based", false},
		{"", "based", false},
		{"anything", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.kw, func(t *testing.T) {
			if got := Contains(tt.text, tt.kw); got != tt.want {
				t.Errorf("Contains(%q, %q) = %v, want %v", tt.text, tt.kw, got, tt.want)
			}
		})
	}
}

func TestIsCommandAttempt(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		prefixes []string
		want     bool
	}{
		{"single prefix", "!joinbased", []string{"!"}, true},
		{"no prefix", "joinbased", []string{"!"}, false},
		{"second of many", "<@42> joinbased", []string{"!", "<@42> "}, true},
		{"none configured", "!joinbased", nil, false},
		{"empty prefix ignored", "hello", []string{""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCommandAttempt(tt.content, tt.prefixes...); got != tt.want {
				t.Errorf("IsCommandAttempt(%q, %q) = %v, want %v", tt.content, tt.prefixes, got, tt.want)
			}
		})
	}
}

func TestShouldReply(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		prefixes []string
		want     bool
	}{
		{"plain keyword", "this is based", []string{"!"}, true},
		{"keyword inside command", "!basedcommand", []string{"!"}, false},
		{"bare command", "!based", []string{"!"}, false},
		{"mention command", "<@42> joinbased", []string{"!", "<@42> "}, false},
		{"no keyword", "hello there", []string{"!"}, false},
		{"shouting", "BASED", []string{"!"}, true},
		{"prefix later in text", "so based!", []string{"!"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldReply(tt.content, "based", tt.prefixes...); got != tt.want {
				t.Errorf("ShouldReply(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}
