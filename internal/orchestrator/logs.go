package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"devstack/internal/backend"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/errgroup"
)

// LogsOptions selects and tunes log output.
type LogsOptions struct {
	Services   []string // Empty means every service
	Timestamps bool
	Follow     bool
	Tail       int
}

const maxLogLine = 1024 * 1024

// Logs writes the logs of the app at rootPath to w. Every line is prefixed
// with the container name, padded so that lines of all services align. Without
// Follow the services are printed one after another in declaration order;
// with Follow the streams are interleaved line by line until ctx is done.
func (o *Orchestrator) Logs(ctx context.Context, rootPath string, opts LogsOptions, w io.Writer) error {
	g, err := o.LoadApp(rootPath)
	if err != nil {
		return err
	}
	services, err := selectServices(g, opts.Services)
	if err != nil {
		return err
	}

	snap := o.inspector.Observe(ctx, g, services)
	var present []string
	for _, name := range services {
		if snap[name].Exists {
			present = append(present, name)
		} else {
			logging.Warn("Logs", "Service %s has no container, skipping", name)
		}
	}
	if len(present) == 0 {
		return nil
	}

	width := 0
	for _, name := range present {
		width = max(width, runewidth.StringWidth(g.ContainerName(name)))
	}
	out := &prefixWriter{w: w}
	logOpts := backend.LogOptions{Follow: opts.Follow, Timestamps: opts.Timestamps, Tail: opts.Tail}

	if !opts.Follow {
		for _, name := range present {
			prefix := runewidth.FillRight(g.ContainerName(name), width) + " | "
			if err := o.copyLogs(ctx, g.ContainerName(name), prefix, logOpts, out); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, name := range present {
		prefix := runewidth.FillRight(g.ContainerName(name), width) + " | "
		eg.Go(func() error {
			return o.copyLogs(egCtx, g.ContainerName(name), prefix, logOpts, out)
		})
	}
	err = eg.Wait()
	if ctx.Err() != nil {
		// Following ends when the user interrupts.
		return nil
	}
	return err
}

func (o *Orchestrator) copyLogs(ctx context.Context, container, prefix string, opts backend.LogOptions, out *prefixWriter) error {
	stream, err := o.backend.StreamLogs(ctx, container, opts)
	if err != nil {
		return fmt.Errorf("logs of %s: %w", container, err)
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		if err := out.writeLine(prefix, scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading logs of %s: %w", container, err)
	}
	return ctx.Err()
}

// prefixWriter serializes whole lines from concurrent streams.
type prefixWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *prefixWriter) writeLine(prefix, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, prefix+line+"\n")
	return err
}

// selectServices validates the requested services and returns them in
// declaration order, or every service when none is requested.
func selectServices(g *servicegraph.ServiceGraph, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return g.Services(), nil
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := g.Spec(name); !ok {
			return nil, fmt.Errorf("%w %q in app %s", ErrUnknownService, name, g.AppName)
		}
		want[name] = true
	}
	var out []string
	for _, name := range g.Order {
		if want[name] {
			out = append(out, name)
		}
	}
	return out, nil
}
