package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rebeljah/rtpcast/rtp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

type ErrReadCancelled struct {
	cause error
}

func (e ErrReadCancelled) Error() string { return "read cancelled" }
func (e ErrReadCancelled) Unwrap() error { return e.cause }

var errReadCancelled ErrReadCancelled

var errExitFromCLI = errors.New("CLI exit")

func ssrcFlag() cli.Flag {
	return &cli.UintFlag{
		Name:     "ssrc",
		Aliases:  []string{"s"},
		Usage:    "synchronization source id of the stream",
		Required: true,
	}
}

type CancelableReader struct {
	cancel <-chan error
	data   chan []byte
	err    error
	r      io.Reader
}

func (c *CancelableReader) begin() {
	buf := make([]byte, 1024)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			tmp := make([]byte, n)
			copy(tmp, buf[:n])
			c.data <- tmp
		}
		if err != nil {
			c.err = err
			close(c.data)
			return
		}
	}
}

func (c *CancelableReader) Read(p []byte) (int, error) {
	select {
	case err := <-c.cancel:
		return 0, ErrReadCancelled{cause: err}
	case d, ok := <-c.data:
		if !ok {
			return 0, c.err
		}
		copy(p, d)
		return len(d), nil
	}
}

func NewCancelableReader(cancel <-chan error, r io.Reader) *CancelableReader {
	c := &CancelableReader{
		cancel: cancel,
		r:      r,
		data:   make(chan []byte),
	}
	go c.begin()
	return c
}

// CLI is the interactive operator surface: inspect live streams and their
// transport stats, or shut the engine down.
type CLI struct {
	mux           *rtp.Multiplexer
	producers     []*Producer
	reader        *CancelableReader
	cancelReader  chan<- error
	interruptOnce sync.Once
}

func NewCLI(mux *rtp.Multiplexer, producers []*Producer) *CLI {
	c := make(chan error, 1)

	return &CLI{
		mux:          mux,
		producers:    producers,
		reader:       NewCancelableReader(c, os.Stdin),
		cancelReader: c,
	}
}

func (c *CLI) producerFor(ssrc rtp.SSRC) (*Producer, error) {
	for _, p := range c.producers {
		if p.Source() == ssrc {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no producer feeds ssrc: %d", uint32(ssrc))
}

func (c *CLI) commandStreamList(ctx context.Context, cmd *cli.Command) error {
	stats := c.mux.StatsSnapshot()

	if len(stats) == 0 {
		fmt.Println("no live streams")
		return nil
	}

	for _, s := range stats {
		fmt.Printf(
			"ssrc=%d active=%v seq=%d ts=%d clock=%d sent=%d recv=%d\n",
			uint32(s.SSRC), s.Active, s.SequenceNumber, s.Timestamp,
			s.ClockRate, s.PacketsSent, s.PacketsReceived,
		)
	}
	return nil
}

func (c *CLI) commandStreamStats(ctx context.Context, cmd *cli.Command) error {
	ssrcValue := cmd.Uint("ssrc")

	streamCtx, err := c.mux.Context(rtp.SSRC(ssrcValue))
	if err != nil {
		return err
	}

	s := streamCtx.Stats()
	fmt.Printf(
		"ssrc=%d active=%v\n  jitter=%.3f ticks\n  seq=%d ts=%d clock=%d\n  sent=%d pkts / %d bytes\n  recv=%d pkts / %d bytes\n",
		uint32(s.SSRC), s.Active, s.Jitter, s.SequenceNumber, s.Timestamp,
		s.ClockRate, s.PacketsSent, s.BytesSent, s.PacketsReceived, s.BytesReceived,
	)
	return nil
}

func (c *CLI) commandStreamPause(ctx context.Context, cmd *cli.Command) error {
	p, err := c.producerFor(rtp.SSRC(cmd.Uint("ssrc")))
	if err != nil {
		return err
	}
	p.Pause()
	fmt.Printf("paused producer for ssrc=%d\n", cmd.Uint("ssrc"))
	return nil
}

func (c *CLI) commandStreamResume(ctx context.Context, cmd *cli.Command) error {
	p, err := c.producerFor(rtp.SSRC(cmd.Uint("ssrc")))
	if err != nil {
		return err
	}
	p.Resume()
	fmt.Printf("resumed producer for ssrc=%d\n", cmd.Uint("ssrc"))
	return nil
}

func (c *CLI) commandDrops(ctx context.Context, cmd *cli.Command) error {
	drops := c.mux.Stats()
	fmt.Printf("malformed=%d unknown-ssrc=%d\n", drops.MalformedDropped, drops.UnknownDropped)
	return nil
}

func (c *CLI) Run() error {
	logrus.Info("running rtpcast CLI")
	defer logrus.Info("rtpcast CLI stopped")

	// override default error handler (we don't want to exit on error)
	cli.OsExiter = func(int) {}

	cmd := &cli.Command{
		Commands: []*cli.Command{
			{
				Name:    "stream",
				Aliases: []string{"s"},
				Usage:   "Inspect live RTP streams",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list live streams and their transport counters",
						Action: c.commandStreamList,
					},
					{
						Name:   "stats",
						Usage:  "show full transport stats for one stream",
						Flags:  []cli.Flag{ssrcFlag()},
						Action: c.commandStreamStats,
					},
					{
						Name:   "pause",
						Usage:  "hold the producer feeding one stream",
						Flags:  []cli.Flag{ssrcFlag()},
						Action: c.commandStreamPause,
					},
					{
						Name:   "resume",
						Usage:  "release a paused producer",
						Flags:  []cli.Flag{ssrcFlag()},
						Action: c.commandStreamResume,
					},
				},
			},
			{
				Name:   "drops",
				Usage:  "show receive-path drop counters",
				Action: c.commandDrops,
			},
			{
				Name: "exit",
				Action: func(context.Context, *cli.Command) error {
					c.Interrupt(errExitFromCLI)
					return nil
				},
			},
		},
	}

	reader := bufio.NewReader(c.reader)
	for {
		fmt.Print("rtpcast> ")

		input, err := reader.ReadString('\n')
		if err != nil {
			// If the input read was cancelled on purpose, we are more interested in the
			// root cause (usually due to CLI exit or shutdown of a server)
			if errors.As(err, &errReadCancelled) {
				return errors.Unwrap(err)
			}
			return err
		}

		input = strings.TrimSpace(input)

		// Split input into args and prepend the program name
		args := append([]string{"rtpcast"}, strings.Fields(input)...)
		if err := cmd.Run(context.Background(), args); err != nil {
			logrus.Warn(err)
		}
	}
}

func (c *CLI) Interrupt(cause error) {
	c.interruptOnce.Do(func() {
		logrus.Infof("stopping rtpcast CLI: %v", cause)

		c.cancelReader <- cause
	})
}
