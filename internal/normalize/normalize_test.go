package normalize

import "testing"

func TestClean(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
		ok   bool
	}{
		{"plain", "hello there", "hello there", true},
		{"link and emoji", "check <https://x.com|this> out :smile:", "check  out", true},
		{"mention", "<@U123> can you look?", "can you look?", true},
		{"emoji only", ":wave:", "", false},
		{"empty", "", "", false},
		{"whitespace", "   \n ", "", false},
		{"code fence", "see ```go\nfmt.Println()\n```", "", false},
		{"nested looking", "<<a>b>", "b>", true},
		{"colon pairs", "time 10:30:45 ok", "time 1045 ok", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Clean(tc.in)
			if ok != tc.ok || got != tc.out {
				t.Fatalf("Clean(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.out, tc.ok)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"check <https://x.com|this> out :smile:",
		"plain text",
		"a:b:c:d:",
		"<@U1> hi <@U2>",
	}
	for _, in := range inputs {
		once, ok := Clean(in)
		if !ok {
			continue
		}
		twice, ok2 := Clean(once)
		if !ok2 || twice != once {
			t.Fatalf("Clean not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
