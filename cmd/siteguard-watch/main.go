package main

import (
	"context"
	"flag"
	"fmt"
	"iter"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/config"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/grpc"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/reconcile"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/google/uuid"
)

// siteguard-watch keeps a live list of violations: alerts stream in over gRPC and
// the list is periodically reconciled against a store snapshot, so anything the
// stream dropped shows up within one interval. Violation ids written to stdin are
// resolved, shown as resolved right away and then confirmed by the server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	address := flag.String("address", cfg.ServerAddress, "SiteGuard gRPC address")
	camera := flag.String("camera", "", "only watch this camera")
	interval := flag.Duration("interval", cfg.ReconcileInterval, "reconciliation interval")
	resolve := flag.String("resolve", "", "resolve this violation id and exit")
	flag.Parse()

	client := grpc.NewClient(*address)
	if err := client.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *resolve != "" {
		outcome, err := client.Resolve(ctx, *resolve)
		if err != nil {
			log.Fatalf("Resolve failed: %v", err)
		}
		fmt.Printf("%s: %s\n", *resolve, outcome)
		return
	}

	view := reconcile.NewView()
	filter := store.Filter{CameraID: *camera}

	poller := reconcile.NewPoller(view, client, filter, *interval)
	poller.OnMerge(printSummary)
	go poller.Run(ctx)
	go resolveCommands(ctx, os.Stdin, view, client, time.Now)

	for ctx.Err() == nil {
		stream, err := client.StreamAlerts(ctx, &grpc.StreamRequest{
			SubscriberID: "watch-" + uuid.NewString(),
			CameraID:     *camera,
		})
		if err != nil {
			log.Printf("Warning: alert stream unavailable: %v", err)
		} else {
			reconcile.Follow(view, logEvents(stream))
			if err := stream.Err(); err != nil && ctx.Err() == nil {
				log.Printf("Warning: alert stream ended: %v", err)
			}
		}

		// the poller keeps the view converging while the stream is down
		select {
		case <-ctx.Done():
		case <-time.After(*interval):
		}
	}

	log.Printf("siteguard-watch stopped")
}

func logEvents(stream *grpc.AlertStream) iter.Seq[models.LifecycleEvent] {
	return func(yield func(models.LifecycleEvent) bool) {
		for ev := range stream.Events() {
			v := ev.Violation
			log.Printf("[%s] %s %s %s (%.0fs)", ev.Kind, v.CameraID, v.Kind, v.SubjectKey, v.DurationSeconds)
			if !yield(ev) {
				return
			}
		}
	}
}

func printSummary(merged []*models.Violation) {
	ongoing := 0
	for _, v := range merged {
		if !v.IsResolved() {
			ongoing++
		}
	}
	log.Printf("Reconciled: %d violations, %d ongoing", len(merged), ongoing)
}
