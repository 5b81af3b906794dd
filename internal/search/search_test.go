package search

import "testing"

func TestTextFromContent(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"not json", `{{`, ""},
		{"flat text", `{"text":"hello"}`, "hello"},
		{
			"nested content",
			`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}]}`,
			"first second",
		},
		{
			"blocks shape",
			`{"blocks":[{"text":"alpha"},{"text":"beta"}]}`,
			"alpha beta",
		},
		{"no text fields", `{"type":"doc","content":[]}`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TextFromContent([]byte(tc.raw)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
