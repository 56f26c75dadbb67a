// Package nats publishes row-change events to a NATS JetStream stream,
// adapted from the teacher's pkg/pipeline/peer/nats.PeerNATS (JetStream
// context, "<prefix>.>" stream subjects, file-backed single-replica stream)
// to the watch.Watcher contract. The teacher's Sub-side pull-consumer/Ack
// machinery has no counterpart here: this watcher is publish-only.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/util"
	"github.com/edgeflare/pgcdc/pkg/watch"
	"github.com/edgeflare/pgcdc/pkg/watcher/wire"
)

// Config mirrors the connection-relevant fields of the teacher's peer/nats
// Config.
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
}

func (c *Config) withDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "pgcdc"
	}
	if c.Stream == "" {
		c.Stream = c.SubjectPrefix + "-stream"
	}
	if c.Username == "" {
		c.Username = util.GetEnvOrDefault("PGCDC_NATS_USERNAME", "")
	}
	if c.Password == "" {
		c.Password = util.GetEnvOrDefault("PGCDC_NATS_PASSWORD", "")
	}
}

// Watcher publishes Insert/Update/Delete events to
// "<prefix>.<schema>.<table>.<kind>" JetStream subjects.
type Watcher struct {
	watch.Base
	cfg    Config
	nc     *nats.Conn
	js     nats.JetStreamContext
}

// New connects to cfg.Servers and ensures the destination stream exists,
// mirroring the teacher's ensureStream.
func New(cfg Config) (*Watcher, error) {
	cfg.withDefaults()

	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	var serverURL string
	for i, s := range cfg.Servers {
		if i > 0 {
			serverURL += ","
		}
		serverURL += s
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("watcher/nats: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("watcher/nats: jetstream context: %w", err)
	}

	subject := cfg.SubjectPrefix + ".>"
	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		_, err := js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("watcher/nats: add stream: %w", err)
		}
	}

	return &Watcher{cfg: cfg, nc: nc, js: js}, nil
}

// OnEvent publishes row-change events; Begin/Commit are no-ops.
func (w *Watcher) OnEvent(e cdcevent.Event) error {
	env, ok := wire.FromEvent(e)
	if !ok {
		return nil
	}

	subject := wire.Subject(w.cfg.SubjectPrefix, env)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("watcher/nats: marshal event: %w", err)
	}

	if _, err := w.js.Publish(subject, payload); err != nil {
		metrics.PublishErrors.WithLabelValues("nats").Inc()
		return fmt.Errorf("watcher/nats: publish: %w", err)
	}
	return nil
}

// Close closes the underlying connection; it does not drain it first.
func (w *Watcher) Close() error {
	w.nc.Close()
	return nil
}
