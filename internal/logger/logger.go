package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "imagedescriber"

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Axiom
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration

	// Out replaces stdout, mostly for tests.
	Out io.Writer
}

var (
	global zerolog.Logger
	ax     *axiomClient
)

// Init sets up the global logger: stdout (or console), optional rotated file,
// optional Axiom forwarding.
func Init(opts Options) error {
	var writers []io.Writer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, out)
	}

	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		client, err := newAxiomClient(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			ax = client
			writers = append(writers, &axiomWriter{sink: client})
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	global = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
	log.Logger = global
	zerolog.DefaultContextLogger = &global
	return nil
}

// Close flushes any buffered external loggers.
func Close() {
	if ax != nil {
		_ = ax.Close()
		ax = nil
	}
}

// eventSink receives decoded log events; *axiomClient in production.
type eventSink interface {
	Send(ev axiom.Event)
}

// axiomWriter turns zerolog JSON lines into Axiom events. Debug lines are not
// shipped, and events without a time get the ingest timestamp.
type axiomWriter struct {
	sink eventSink
	now  func() time.Time
}

func (w *axiomWriter) Write(p []byte) (int, error) {
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{zerolog.MessageFieldName: string(p), zerolog.LevelFieldName: zerolog.InfoLevel.String()}
	}
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl == zerolog.DebugLevel.String() {
		return len(p), nil
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		now := time.Now
		if w.now != nil {
			now = w.now
		}
		ev[ingest.TimestampField] = now()
	}
	w.sink.Send(ev)
	return len(p), nil
}

const axiomBatchSize = 200

// axiomClient buffers events and ingests them in batches, on a full batch or
// every flush interval.
type axiomClient struct {
	client  *axiom.Client
	dataset string
	events  chan axiom.Event
	done    chan struct{}
	stopped sync.WaitGroup
}

func newAxiomClient(token, orgID, dataset string, flushEvery time.Duration) (*axiomClient, error) {
	if dataset == "" {
		dataset = "dev_" + serviceName
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	ac := &axiomClient{
		client:  c,
		dataset: dataset,
		events:  make(chan axiom.Event, 5*axiomBatchSize),
		done:    make(chan struct{}),
	}
	ac.stopped.Add(1)
	go ac.run(flushEvery)
	return ac, nil
}

// Send queues ev, dropping it when the buffer is full.
func (a *axiomClient) Send(ev axiom.Event) {
	select {
	case a.events <- ev:
	default:
	}
}

func (a *axiomClient) ingest(batch []axiom.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := a.client.IngestEvents(ctx, a.dataset, batch); err != nil {
		fmt.Fprintf(os.Stderr, "axiom ingest failed: %v\n", err)
	}
}

func (a *axiomClient) run(flushEvery time.Duration) {
	defer a.stopped.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, axiomBatchSize)
	for {
		select {
		case ev := <-a.events:
			batch = append(batch, ev)
			if len(batch) < axiomBatchSize {
				continue
			}
		case <-ticker.C:
		case <-a.done:
			a.ingest(batch)
			return
		}
		a.ingest(batch)
		batch = batch[:0]
	}
}

// Close stops the flush loop after a final ingest.
func (a *axiomClient) Close() error {
	close(a.done)
	a.stopped.Wait()
	return nil
}
