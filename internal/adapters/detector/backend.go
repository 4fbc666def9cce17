package detector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const (
	maxReplyBytes  = 16 << 20
	maxStderrBytes = 512
	processWait    = time.Second
)

// Backend is the single capability every detector implements: an encoded
// image in, raw keypoints out.
type Backend interface {
	Detect(ctx context.Context, image []byte) ([]RawKeypoint, error)
}

// BackendFunc adapts an in-process function to Backend.
type BackendFunc func(ctx context.Context, image []byte) ([]RawKeypoint, error)

// Detect calls f.
func (f BackendFunc) Detect(ctx context.Context, image []byte) ([]RawKeypoint, error) {
	return f(ctx, image)
}

// HTTPBackend posts the image to a detector service and decodes the reply.
type HTTPBackend struct {
	url     string
	client  *http.Client
	decoder Decoder
}

// NewHTTPBackend creates a backend for url. A nil client uses
// http.DefaultClient; deadlines come from the call context.
func NewHTTPBackend(url string, client *http.Client, decoder Decoder) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{url: url, client: client, decoder: decoder}
}

// Detect implements Backend.
func (b *HTTPBackend) Detect(ctx context.Context, image []byte) ([]RawKeypoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call detector %s: %w", b.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read detector reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("detector %s returned %d: %s", b.url, resp.StatusCode, truncate(string(body), maxStderrBytes))
	}
	return b.decoder.Decode(body)
}

// ProcessBackend runs a local command per frame with the image on stdin and
// the reply on stdout.
type ProcessBackend struct {
	command []string
	decoder Decoder
}

// NewProcessBackend creates a backend for command (program and arguments).
func NewProcessBackend(command []string, decoder Decoder) (*ProcessBackend, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("%w: process backend needs a command", ErrInvalidDetector)
	}
	return &ProcessBackend{command: append([]string(nil), command...), decoder: decoder}, nil
}

// Detect implements Backend.
func (b *ProcessBackend) Detect(ctx context.Context, image []byte) ([]RawKeypoint, error) {
	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWait

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run %s: %w: %s", b.command[0], err, truncate(strings.TrimSpace(stderr.String()), maxStderrBytes))
	}
	return b.decoder.Decode(stdout.Bytes())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
