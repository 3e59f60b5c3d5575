// Command randstorm-watch prints the progress a running randstorm scan
// publishes over ZMQ.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/pebbe/zmq4"

	"github.com/wille/randstorm/internal/telemetry"
)

type options struct {
	ZMQ   string        `short:"z" long:"zmq" description:"The ZMQ endpoint the scanner publishes on" default:"tcp://127.0.0.1:18504"`
	Stale time.Duration `long:"stale" description:"Warn when no snapshot arrived for this long" default:"1m"`
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

// watch subscribes to progress snapshots and prints them until ctx is done.
func watch(ctx context.Context, opts options) error {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create ZMQ context: %v", err)
	}
	defer zctx.Term()

	subscriber, err := zctx.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("failed to create ZMQ subscriber socket: %v", err)
	}
	defer subscriber.Close()

	// wake up regularly to notice ctx and stale publishers
	if err := subscriber.SetRcvtimeo(time.Second); err != nil {
		return err
	}
	if err := subscriber.Connect(opts.ZMQ); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %v", opts.ZMQ, err)
	}
	if err := subscriber.SetSubscribe(telemetry.Topic); err != nil {
		return fmt.Errorf("failed to subscribe to %s topic: %v", telemetry.Topic, err)
	}
	log.Printf("Subscribed to progress on %s", opts.ZMQ)

	last := time.Now()
	warned := false
	for ctx.Err() == nil {
		msgs, err := subscriber.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				if !warned && opts.Stale > 0 && time.Since(last) > opts.Stale {
					log.Print(color.YellowString("No progress received for %s", telemetry.FormatDuration(time.Since(last))))
					warned = true
				}
				continue
			}
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EINTR) {
				continue
			}
			return fmt.Errorf("error receiving ZMQ message: %v", err)
		}

		if len(msgs) < 2 {
			log.Printf("Received incomplete ZMQ message")
			continue
		}
		if topic := string(msgs[0]); topic != telemetry.Topic {
			log.Printf("Received unknown ZMQ topic: %s", topic)
			continue
		}

		s, err := telemetry.Decode(msgs[1])
		if err != nil {
			log.Printf("Error decoding progress snapshot: %v", err)
			continue
		}
		last = time.Now()
		warned = false
		log.Print(render(s))
	}
	return nil
}

func render(s telemetry.Snapshot) string {
	line := s.String()
	if s.Backend != "" {
		line += " | " + s.Backend
	}
	if s.Matched > 0 {
		return color.GreenString(line)
	}
	return color.CyanString(line)
}
