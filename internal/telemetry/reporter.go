package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pebbe/zmq4"
	"github.com/schollz/progressbar/v3"
)

// Topic is the ZMQ topic progress snapshots are published on.
const Topic = "progress"

// Sink consumes snapshots.
type Sink interface {
	Report(s Snapshot) error
}

// Run reports a snapshot to every sink each interval until ctx is done, then
// once more so the final state is visible. Sink errors are logged and
// otherwise ignored.
func Run(ctx context.Context, c *Counters, interval time.Duration, sinks ...Sink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func() {
		s := c.Snapshot(time.Now())
		for _, sink := range sinks {
			if err := sink.Report(s); err != nil {
				slog.Debug("telemetry sink failed", "err", err)
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			emit()
		case <-ctx.Done():
			emit()
			return
		}
	}
}

// Console logs one line per snapshot.
type Console struct{}

func (Console) Report(s Snapshot) error {
	log.Print(color.CyanString(s.String()))
	return nil
}

// Bar drives a terminal progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a bar for total candidates drawn on w.
func NewBar(total uint64, w io.Writer) *Bar {
	return &Bar{bar: progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("keys/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionFullWidth(),
	)}
}

func (b *Bar) Report(s Snapshot) error {
	return b.bar.Set64(int64(s.Processed))
}

// Close completes the bar.
func (b *Bar) Close() error {
	return b.bar.Finish()
}

// Publisher publishes snapshots on a ZMQ PUB socket. Only counters are
// published.
type Publisher struct {
	zctx *zmq4.Context
	sock *zmq4.Socket
}

// NewPublisher binds a PUB socket to endpoint.
func NewPublisher(endpoint string) (*Publisher, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %v", err)
	}
	sock, err := zctx.NewSocket(zmq4.PUB)
	if err != nil {
		zctx.Term()
		return nil, fmt.Errorf("failed to create ZMQ publisher socket: %v", err)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		zctx.Term()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %v", endpoint, err)
	}
	return &Publisher{zctx: zctx, sock: sock}, nil
}

// Report never blocks; a snapshot nobody can receive is dropped.
func (p *Publisher) Report(s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.sock.SendMessageDontwait(Topic, body)
	if err != nil && zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
		return nil
	}
	return err
}

func (p *Publisher) Close() error {
	err := p.sock.Close()
	p.zctx.Term()
	return err
}

// Decode parses a published snapshot body.
func Decode(body []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(body, &s)
	return s, err
}
