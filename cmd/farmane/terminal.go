package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/store"
)

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

// printer writes transcript lines, coloured only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) printer {
	f, ok := w.(*os.File)
	return printer{w: w, color: ok && term.IsTerminal(int(f.Fd()))}
}

func (p printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p printer) message(m store.VisibleMessage) {
	switch m.Role {
	case llm.RoleUser:
		fmt.Fprintf(p.w, "%s %s\n", p.paint(ansiGreen, "you:"), m.Content)
	case llm.RoleAssistant:
		if m.Content != "" {
			fmt.Fprintf(p.w, "%s %s\n", p.paint(ansiCyan, "kue:"), m.Content)
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintln(p.w, p.paint(ansiDim, fmt.Sprintf("  -> %s(%s)", tc.Function.Name, tc.Function.Arguments)))
		}
	case llm.RoleTool:
		fmt.Fprintln(p.w, p.paint(ansiDim, "  <- "+truncate(m.Content, 200)))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// terminalNotifier prints a run's notices as they happen.
type terminalNotifier struct {
	mu sync.Mutex
	p  printer
}

func (t *terminalNotifier) Error(_ context.Context, _ uint, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.p.w, t.p.paint(ansiRed, "! "+text))
}

func (t *terminalNotifier) Action(_ context.Context, _ uint, text string, _ ...notify.ActionOption) func() {
	t.mu.Lock()
	fmt.Fprintln(t.p.w, t.p.paint(ansiDim, "* "+text))
	t.mu.Unlock()
	return func() {}
}
