package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/autokit/internal/model"
)

// SignalFunc receives each decoded raw signal.
type SignalFunc func(ctx context.Context, raw model.RawSignal) error

// ReadSignals decodes newline-delimited JSON signals from r until EOF.
// Undecodable lines are logged and skipped. A non-nil error from fn stops
// reading and is returned.
func ReadSignals(ctx context.Context, r io.Reader, logger *slog.Logger, fn SignalFunc) error {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadString('\n')
		if line != "" {
			lineNo++
			if herr := handleLine(ctx, line, lineNo, logger, fn); herr != nil {
				return herr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read signals: %w", err)
		}
	}
}

// FollowSignals reads path like ReadSignals, then keeps polling for appended
// lines every interval until ctx is done. A trailing partial line is held
// until its newline arrives.
func FollowSignals(ctx context.Context, path string, interval time.Duration, logger *slog.Logger, fn SignalFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open signals: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var partial strings.Builder
	lineNo := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		chunk, err := br.ReadString('\n')
		partial.WriteString(chunk)

		if err == nil {
			lineNo++
			line := partial.String()
			partial.Reset()
			if herr := handleLine(ctx, line, lineNo, logger, fn); herr != nil {
				return herr
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("follow signals: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func handleLine(ctx context.Context, line string, lineNo int, logger *slog.Logger, fn SignalFunc) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	var raw model.RawSignal
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		logger.Warn("skipping undecodable signal", "line", lineNo, "error", err)
		return nil
	}
	return fn(ctx, raw)
}

// AppendSignal writes raw as one JSON line at the end of path.
func AppendSignal(path string, raw model.RawSignal) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open signals: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append signal: %w", err)
	}
	return f.Close()
}
