package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/sensorbus/internal/codec"
	"github.com/dshills/sensorbus/internal/event"
	"github.com/dshills/sensorbus/internal/flow"
	"github.com/dshills/sensorbus/internal/logging"
	"github.com/dshills/sensorbus/internal/script"
)

type replayOptions struct {
	input  string
	filter string
	strict bool
}

func newReplayCmd(c *cli) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Publish recorded JSON-lines events and print them back",
		Long: `Publish recorded JSON-lines events and print them back.

Each input line is an object with a sourceID and optionally a timestamp,
a topic and any other attributes. Records are published on their topic and
every topic is tailed to standard output in publish order. With --filter
only records matching the Lua expression are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.replay(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Input file (default stdin)")
	f.StringVar(&opts.filter, "filter", "", "Lua expression selecting printed records")
	f.BoolVar(&opts.strict, "strict", false, "Fail on the first malformed line")
	return cmd
}

func (c *cli) replay(cmd *cobra.Command, opts *replayOptions) error {
	ctx := cmd.Context()
	log := logging.Component(c.log, "replay")

	in := cmd.InOrStdin()
	if opts.input != "" && opts.input != "-" {
		file, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		in = file
	}

	var match func(codec.Record) bool
	if opts.filter != "" {
		f, err := script.Compile(opts.filter, script.WithLogger(logging.Component(c.log, "script")))
		if err != nil {
			return err
		}
		defer f.Close()
		pred := f.Predicate()
		match = func(r codec.Record) bool { return pred(r) }
	}

	bus := c.newBus()
	defer c.stopBus(bus)
	out := codec.NewWriter(cmd.OutOrStdout())

	t := &tailer{
		bus:   bus,
		out:   out,
		match: match,
		log:   log,
		pubs:  make(map[string]*event.BufferedPublisher),
	}

	dec := codec.NewDecoder(in)
	var published, skipped int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *codec.LineError
		if errors.As(err, &lineErr) && !opts.strict {
			log.WithError(err).Warn("Skipping malformed record")
			skipped++
			continue
		}
		if err != nil {
			return err
		}

		pub, err := t.publisher(ctx, rec.Topic)
		if err != nil {
			return err
		}
		pub.PublishWithDrop(rec, t.retryDrop)
		published++
	}

	bus.Close()
	if err := waitGroupDone(ctx, t.wg.Wait); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"published": published,
		"skipped":   skipped,
		"topics":    len(t.pubs),
	}).Info("Replay complete")
	return nil
}

// tailer creates topic publishers on first use and attaches a subscriber
// that prints everything published on the topic.
type tailer struct {
	bus   *event.Bus
	out   *codec.Writer
	match func(codec.Record) bool
	log   *logrus.Entry

	pubs map[string]*event.BufferedPublisher
	wg   sync.WaitGroup
}

func (t *tailer) publisher(ctx context.Context, topic string) (*event.BufferedPublisher, error) {
	if pub, ok := t.pubs[topic]; ok {
		return pub, nil
	}

	log := t.log.WithField("topic", topic)
	var once sync.Once
	t.wg.Add(1)
	done := func() { once.Do(t.wg.Done) }

	future := event.NewSubscription[codec.Record](t.bus).
		WithTopicIDs(topic).
		WithFilter(t.match).
		SubscribeAll(
			func(r codec.Record) {
				if err := t.out.Write(r, r.Topic); err != nil {
					log.WithError(err).Error("Failed to write record")
				}
			},
			func(err error) {
				log.WithError(err).Error("Tail failed")
				done()
			},
			done,
		)

	pub, err := t.bus.GetPublisher(topic)
	if err != nil {
		done()
		return nil, err
	}
	if _, err := future.Get(ctx); err != nil {
		done()
		return nil, fmt.Errorf("tail %s: %w", topic, err)
	}

	t.pubs[topic] = pub
	return pub, nil
}

// retryDrop gives the tail a moment to drain and retries once.
func (t *tailer) retryDrop(_ flow.Subscriber[event.Event], e event.Event) bool {
	t.log.WithField("src", e.SourceID()).Debug("Buffer full, retrying")
	time.Sleep(5 * time.Millisecond)
	return true
}
