package main

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/reconcile"
)

// Resolver is the server side of an operator resolve
type Resolver interface {
	Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error)
}

// resolveCommands reads one violation id per line and resolves each until r is
// exhausted or ctx ends. Blank lines and lines starting with # are skipped.
func resolveCommands(ctx context.Context, r io.Reader, view *reconcile.View, resolver Resolver, now func() time.Time) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		id := strings.TrimSpace(scanner.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		resolveOne(ctx, view, resolver, id, now())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Warning: reading resolve commands: %v", err)
	}
}

// resolveOne shows the resolve in the view first, then asks the server. The
// view's guard keeps older snapshots from reopening it while the store catches up.
func resolveOne(ctx context.Context, view *reconcile.View, resolver Resolver, id string, at time.Time) (models.ResolveOutcome, error) {
	local := view.ApplyResolve(id, at)

	remote, err := resolver.Resolve(ctx, id)
	if err != nil {
		log.Printf("Warning: resolve %s failed on server (local: %s): %v", id, local, err)
		return "", err
	}

	log.Printf("Resolve %s: %s (local: %s)", id, remote, local)
	return remote, nil
}
