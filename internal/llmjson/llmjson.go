// Package llmjson centralises the defensive handling of language-model text
// output: stripping markdown code fences, decoding JSON payloads, and
// retrying transport-level failures.
//
// Models routinely wrap JSON in ``` fences (optionally tagged with a
// language) despite instructions not to; every summarizer, the classifier,
// and the retrieval planner strip through [Strip] before parsing.
package llmjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Strip removes one leading code fence (``` plus an optional language tag up
// to the first newline) and one matching trailing fence, along with
// surrounding whitespace. Applying Strip twice yields the same result as
// applying it once.
func Strip(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		// Drop the fence line including any language tag.
		rest = rest[i+1:]
	} else {
		// Single-line fenced content such as "```{}```".
		rest = strings.TrimSuffix(rest, "```")
		return strings.TrimSpace(rest)
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}

// Decode strips code fences from raw and unmarshals the remainder into out.
func Decode(raw string, out any) error {
	cleaned := Strip(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("llmjson: decode model output: %w", err)
	}
	return nil
}

// Retryable reports whether err is a transport-level failure worth retrying:
// a network timeout, a refused or reset connection, or a deadline expiry.
// Model-side errors (bad requests, quota, malformed output) are not
// retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Retry call parameters shared by every LM path: two attempts total with
// exponential backoff starting at 500 ms and capped at 4 s.
const (
	RetryAttempts = 2
	retryBase     = 500 * time.Millisecond
	retryCap      = 4 * time.Second
)

// Retry invokes fn up to [RetryAttempts] times, backing off between attempts.
// Only errors classified by [Retryable] trigger another attempt; any other
// error (and the final attempt's error) is returned as-is.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retryBase
	var err error
	for attempt := range RetryAttempts {
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == RetryAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > retryCap {
			backoff = retryCap
		}
	}
	return err
}
