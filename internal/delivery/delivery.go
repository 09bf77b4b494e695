// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package delivery sends batch results to the requesting chat.
// Implements: the Notifier interface, a Telegram Bot API adapter, and a
// writer adapter for the CLI.
package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Chat actions accepted by SendChatAction.
const (
	ActionTyping         = "typing"
	ActionUploadDocument = "upload_document"
)

// Notifier delivers messages and files to a chat.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Writer prints deliveries to w. It backs the CLI, where the chat is the
// terminal.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Notifier = (*Writer)(nil)

// NewWriter returns a Writer printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) SendText(_ context.Context, _ int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintln(n.w, text)
	return err
}

func (n *Writer) SendDocument(_ context.Context, _ int64, path, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if caption != "" {
		_, err := fmt.Fprintf(n.w, "%s: %s\n", caption, path)
		return err
	}
	_, err := fmt.Fprintln(n.w, path)
	return err
}

// SendChatAction is a no-op for terminals.
func (n *Writer) SendChatAction(context.Context, int64, string) error {
	return nil
}
