package tracing

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "llmur", "", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
}

func TestTrimScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4317":   "collector:4317",
		"https://collector:4317/": "collector:4317",
		"collector:4317":          "collector:4317",
	}
	for in, expected := range cases {
		if got := trimScheme(in); got != expected {
			t.Fatalf("%s: expected %s, got %s", in, expected, got)
		}
	}
}
