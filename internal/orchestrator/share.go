package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"devstack/pkg/logging"

	"github.com/atotto/clipboard"
)

// ErrNotShareable is returned when no running service publishes a URL.
var ErrNotShareable = errors.New("no running service publishes a URL")

// For mocking in tests
var clipboardWriteAll = clipboard.WriteAll

// Share returns the local URL of service, or of the first service that
// publishes one, and copies it to the clipboard. A missing clipboard is not an
// error.
func (o *Orchestrator) Share(ctx context.Context, rootPath, service string) (string, error) {
	g, err := o.LoadApp(rootPath)
	if err != nil {
		return "", err
	}
	candidates, err := selectServices(g, nonEmpty(service))
	if err != nil {
		return "", err
	}

	snap := o.inspector.Observe(ctx, g, candidates)
	for _, name := range candidates {
		info := describe(g, g.Specs[name], snap[name])
		if len(info.URLs) == 0 {
			continue
		}
		url := info.URLs[0]
		if err := clipboardWriteAll(url); err != nil {
			logging.Debug("Share", "Clipboard unavailable: %v", err)
		} else {
			logging.Info("Share", "Copied %s to the clipboard", url)
		}
		return url, nil
	}

	if service != "" {
		return "", fmt.Errorf("%w: %s", ErrNotShareable, service)
	}
	return "", ErrNotShareable
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
