// Package main implements gesture-replay, which sends a recorded JSONL capture of
// sensor datagrams to a gesturegate UDP endpoint at the recorded timing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/lmittmann/tint"
)

const appName = "gesture-replay"

func main() {
	if err := run(); err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		target   string
		speed    float64
		loop     int
		progress bool
		restamp  bool
	)
	flag.StringVar(&target, "target", getEnv("GESTURE_REPLAY_TARGET", "127.0.0.1:5005"), "UDP endpoint (env: GESTURE_REPLAY_TARGET)")
	flag.Float64Var(&speed, "speed", 1, "Playback speed factor; 0 sends as fast as possible")
	flag.IntVar(&loop, "loop", 1, "Number of passes over the capture")
	flag.BoolVar(&progress, "progress", true, "Show a progress bar")
	flag.BoolVar(&restamp, "restamp", false, "Rewrite sample timestamps to the send time")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "%s - replay a JSONL sensor capture over UDP\n\nUsage: %s [options] capture.jsonl\n\nOptions:\n",
			appName, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, nil)).With("service", appName))

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one capture file")
	}
	if speed < 0 {
		return fmt.Errorf("invalid speed: %g", speed)
	}
	if loop < 1 {
		return fmt.Errorf("invalid loop count: %d", loop)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	records, err := readCapture(f)
	_ = f.Close()
	if err != nil {
		return err
	}
	if records.Len() == 0 {
		return fmt.Errorf("capture %s has no records", flag.Arg(0))
	}

	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bar *pb.ProgressBar
	if progress {
		bar = pb.Full.New(records.Len() * loop).SetWriter(os.Stderr).Start()
		defer bar.Finish()
	}

	slog.Info("Replaying capture",
		"file", flag.Arg(0),
		"records", records.Len(),
		"span", records.Span(),
		"target", target,
		"speed", speed,
		"loop", loop)

	r := &replayer{conn: conn, speed: speed, restamp: restamp}
	if bar != nil {
		r.onSent = func() { bar.Increment() }
	}

	var sent int
	for pass := 0; pass < loop; pass++ {
		n, err := r.Replay(ctx, records)
		sent += n
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Replay interrupted", "sent", sent)
				return nil
			}
			return err
		}
	}

	slog.Info("Replay complete", "sent", sent, "skipped", records.Skipped)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
