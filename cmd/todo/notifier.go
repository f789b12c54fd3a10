// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/AleutianTodo/pkg/client"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	toastSuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	toastErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// termNotifier prints toasts on one line each, colored on a terminal.
type termNotifier struct {
	out   io.Writer
	color bool
}

func newTermNotifier(out io.Writer) *termNotifier {
	return &termNotifier{out: out, color: isTerminal(out)}
}

func (n *termNotifier) Success(msg string) {
	if n.color {
		msg = toastSuccessStyle.Render(msg)
	}
	fmt.Fprintln(n.out, msg)
}

func (n *termNotifier) Error(msg string) {
	if n.color {
		msg = toastErrorStyle.Render(msg)
	}
	fmt.Fprintln(n.out, msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var _ client.Notifier = (*termNotifier)(nil)
