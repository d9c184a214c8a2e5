// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package notify delivers user-facing messages about credential sync.
package notify

import (
	"log/slog"
	"sync"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows a message to the user. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Info(title, primary, secondary string)
	Warning(title, primary, secondary string)
	Error(title, primary, secondary string)
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func (n LogNotifier) Info(title, primary, secondary string) {
	n.logger().Info(primary, "title", title, "detail", secondary)
}

func (n LogNotifier) Warning(title, primary, secondary string) {
	n.logger().Warn(primary, "title", title, "detail", secondary)
}

func (n LogNotifier) Error(title, primary, secondary string) {
	n.logger().Error(primary, "title", title, "detail", secondary)
}

// Message is one recorded notification.
type Message struct {
	Level     Level
	Title     string
	Primary   string
	Secondary string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) add(level Level, title, primary, secondary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Title: title, Primary: primary, Secondary: secondary})
}

func (r *Recorder) Info(title, primary, secondary string) {
	r.add(LevelInfo, title, primary, secondary)
}

func (r *Recorder) Warning(title, primary, secondary string) {
	r.add(LevelWarning, title, primary, secondary)
}

func (r *Recorder) Error(title, primary, secondary string) {
	r.add(LevelError, title, primary, secondary)
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Filter returns the recorded notifications of one level.
func (r *Recorder) Filter(level Level) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops every recorded notification.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// Tee fans a notification out to several notifiers.
type Tee []Notifier

func (t Tee) Info(title, primary, secondary string) {
	for _, n := range t {
		n.Info(title, primary, secondary)
	}
}

func (t Tee) Warning(title, primary, secondary string) {
	for _, n := range t {
		n.Warning(title, primary, secondary)
	}
}

func (t Tee) Error(title, primary, secondary string) {
	for _, n := range t {
		n.Error(title, primary, secondary)
	}
}
