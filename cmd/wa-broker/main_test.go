// ABOUTME: Tests for the wa-broker command helpers
// ABOUTME: Covers address handling, token flag parsing, and the color log handler

package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":3000", "http://127.0.0.1:3000"},
		{"0.0.0.0:8080", "http://127.0.0.1:8080"},
		{"localhost:3000", "http://localhost:3000"},
		{"[::]:3000", "http://127.0.0.1:3000"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(tt.addr))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestRunToken_FlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no subject", nil, "--subject flag is required"},
		{"dangling subject", []string{"--subject"}, "--subject requires a value"},
		{"blank subject", []string{"--subject=  "}, "--subject flag is required"},
		{"bad ttl", []string{"--subject", "ops", "--ttl", "soon"}, "invalid --ttl"},
		{"negative ttl", []string{"--subject", "ops", "--ttl", "-1h"}, "--ttl must be positive"},
		{"unknown flag", []string{"--name", "ops"}, "unknown flag: --name"},
		{"stray arg", []string{"ops"}, "unexpected argument: ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runToken(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "sessions").Info("session transition", "user_id", "alice")
	logger.WithGroup("req").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "session transition")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "sessions")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "req.ms=")
}
