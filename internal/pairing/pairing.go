// Package pairing shows pairing challenges to the operator as terminal QR codes.
package pairing

import (
	"fmt"
	"io"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"

	logx "groupbot/pkg/logx"
)

// Display writes each distinct pairing code once.
type Display struct {
	out io.Writer
	log logx.Logger

	mu   sync.Mutex
	last string
}

func NewDisplay(out io.Writer, log logx.Logger) *Display {
	if out == nil {
		out = logx.Stdout()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Display{out: out, log: log}
}

// Show renders code as a QR block followed by the raw code.
// Repeating the previous code is a no-op.
func (d *Display) Show(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if code == d.last {
		return nil
	}

	text, err := Render(code)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(d.out, text); err != nil {
		return err
	}
	d.last = code
	d.log.Info("pairing code displayed; scan it with the device to link this session")
	return nil
}

// Render returns the terminal rendering of code.
func Render(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("pairing qr: %w", err)
	}
	var b strings.Builder
	b.WriteString(qr.ToSmallString(false))
	b.WriteString("\npairing code: ")
	b.WriteString(code)
	b.WriteString("\n")
	return b.String(), nil
}
