package automation

import "testing"

func TestDeriveTarget(t *testing.T) {
	testCases := []struct {
		name        string
		instruction string
		expected    string
		ok          bool
	}{
		{name: "explicit url", instruction: "check https://example.com/docs, please", expected: "https://example.com/docs", ok: true},
		{name: "bare domain", instruction: "look something up on news.ycombinator.com", expected: "https://news.ycombinator.com", ok: true},
		{name: "brand keyword", instruction: "Find a video on YouTube about Go", expected: "https://www.youtube.com", ok: true},
		{name: "domain token", instruction: "go to kagi and search for tea", expected: "https://www.kagi.com", ok: true},
		{name: "nothing", instruction: "click the button", ok: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, ok := DeriveTarget(testCase.instruction)
			if ok != testCase.ok {
				t.Fatalf("expected ok=%v, got %v (%q)", testCase.ok, ok, got)
			}
			if got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}
