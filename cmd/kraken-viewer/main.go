package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/krakenlabs/kraken-relay/internal/autoscroll"
	"github.com/krakenlabs/kraken-relay/internal/config"
	"github.com/krakenlabs/kraken-relay/internal/transcript"
	"github.com/krakenlabs/kraken-relay/internal/typewriter"
	"github.com/krakenlabs/kraken-relay/internal/version"
	"github.com/krakenlabs/kraken-relay/internal/viewer"
)

func main() {
	var (
		relayURL    = flag.String("relay", "http://localhost:8090", "base URL of the relay daemon")
		sessionID   = flag.String("session", "", "session ID to watch (required)")
		orgID       = flag.String("org", "", "organization ID; when set, foreign sessions are rejected")
		strategy    = flag.String("dedup", "", "fragment dedup strategy: timestamp or suffix (default from config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullInfo())
		return
	}
	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "usage: kraken-viewer -session <id> [-relay <url>] [-org <id>] [-dedup timestamp|suffix]")
		os.Exit(2)
	}

	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *strategy == "" {
		*strategy = cfg.DedupStrategy
	}

	accOpts := []transcript.Option{}
	switch *strategy {
	case "suffix":
		accOpts = append(accOpts, transcript.WithStrategy(transcript.StrategySuffix))
	case "timestamp", "":
		accOpts = append(accOpts, transcript.WithStrategy(transcript.StrategyTimestamp))
	default:
		log.Fatalf("unknown dedup strategy %q", *strategy)
	}
	if *orgID != "" {
		accOpts = append(accOpts, transcript.WithOrganization(*orgID))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client := viewer.NewClient(*relayURL)
	err = viewer.Run(ctx, client, *sessionID,
		viewer.WithAccumulator(transcript.New(accOpts...)),
		viewer.WithTypewriter(typewriter.New(
			typewriter.WithStartDelay(cfg.TypewriterStartDelay),
			typewriter.WithInterval(cfg.TypewriterInterval),
		)),
		viewer.WithAutoscroll(autoscroll.New(autoscroll.WithThreshold(cfg.AutoscrollThreshold))),
	)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("viewer error: %v", err)
	}
}
