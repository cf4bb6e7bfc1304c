package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/transfa/signup-service/internal/stats"
)

func TestRender(t *testing.T) {
	report := stats.Report{Global: stats.Global{Total: 3, Premium: 1}}

	var buf bytes.Buffer
	if err := render(&buf, "json", report); err != nil {
		t.Fatalf("render json: %v", err)
	}
	if !strings.Contains(buf.String(), `"total": 3`) {
		t.Fatalf("unexpected json output %s", buf.String())
	}

	buf.Reset()
	if err := render(&buf, "YAML", report); err != nil {
		t.Fatalf("render yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "total: 3") || !strings.Contains(buf.String(), "premium: 1") {
		t.Fatalf("unexpected yaml output %s", buf.String())
	}

	if err := render(&buf, "xml", report); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
