package pairing

import (
	"bytes"
	"strings"
	"testing"

	logx "groupbot/pkg/logx"
)

func TestShowRendersEachCodeOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	d := NewDisplay(&buf, logx.Nop())

	if err := d.Show("2@abc,def"); err != nil {
		t.Fatalf("show: %v", err)
	}
	first := buf.Len()
	if first == 0 || !strings.Contains(buf.String(), "pairing code: 2@abc,def") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if err := d.Show("2@abc,def"); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if buf.Len() != first {
		t.Fatalf("repeated code was rendered again")
	}

	if err := d.Show("2@other"); err != nil {
		t.Fatalf("new code: %v", err)
	}
	if buf.Len() == first {
		t.Fatalf("new code was not rendered")
	}
}

func TestShowIgnoresEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	d := NewDisplay(&buf, logx.Nop())
	if err := d.Show("  "); err != nil || buf.Len() != 0 {
		t.Fatalf("empty code: err=%v out=%q", err, buf.String())
	}
}
