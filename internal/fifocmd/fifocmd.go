// Package fifocmd implements the optional FIFO text-command bridge:
// lines of the form "target payload" (direct message, or broadcast when
// target contains `*`/`?`) and "=topic payload" (publish). It is "trivial
// glue" per scope, wired only to a broker.InProcessClient, never
// touching the registry or matchers directly.
package fifocmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"odin-busd/internal/broker"
)

// reopenDelay bounds how quickly the bridge reopens the FIFO after every
// writer closes it (a FIFO yields EOF once all writers have left).
const reopenDelay = 100 * time.Millisecond

// Serve creates the named pipe at path (replacing any stale file) and
// applies every line written to it until ctx is cancelled. All
// FIFO-originated traffic uses QoS No, matching the original bridge,
// which never waits on an acknowledgement.
func Serve(ctx context.Context, path string, client *broker.InProcessClient, log *zap.Logger) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fifocmd: removing stale fifo %s: %w", path, err)
	}
	if err := syscall.Mkfifo(path, 0o622); err != nil {
		return fmt.Errorf("fifocmd: mkfifo %s: %w", path, err)
	}
	defer os.Remove(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("fifocmd: open %s: %w", path, err)
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if err := applyLine(client, line); err != nil {
				log.Warn("fifo command rejected", zap.String("line", line), zap.Error(err))
			}
		}
		f.Close()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reopenDelay):
		}
	}
}

func applyLine(client *broker.InProcessClient, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "="); ok {
		topic, payload, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("fifocmd: publish line missing payload")
		}
		client.Publish(topic, []byte(payload))
		return nil
	}

	target, payload, ok := strings.Cut(line, " ")
	if !ok {
		return fmt.Errorf("fifocmd: line missing payload")
	}
	if strings.ContainsAny(target, "*?") {
		client.SendBroadcast(target, []byte(payload))
	} else {
		client.Send(target, []byte(payload))
	}
	return nil
}
