// Package mqtt publishes row-change events to an MQTT broker, adapted from
// the teacher's pkg/pipeline/peer/mqtt.PeerMQTT (paho.mqtt.golang client,
// "<prefix>/<schema>/<table>/<op>" topic convention) to the watch.Watcher
// contract. The teacher's Sub-side topic-to-fields/rewrite machinery has no
// counterpart here: this watcher is publish-only.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/util"
	"github.com/edgeflare/pgcdc/pkg/watch"
	"github.com/edgeflare/pgcdc/pkg/watcher/wire"
)

// Config is this watcher's parameter shape, matching the teacher's
// peer/mqtt Config's connection fields (the topic-rewrite/topic-to-fields
// fields are Sub-only and dropped here).
type Config struct {
	Servers     []string `mapstructure:"servers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	ClientID    string   `mapstructure:"client_id"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	QoS         byte     `mapstructure:"qos"`
}

func (c *Config) withDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://localhost:1883"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcdc"
	}
	if c.ClientID == "" {
		c.ClientID = "pgcdc-watcher"
	}
	if c.Username == "" {
		c.Username = util.GetEnvOrDefault("PGCDC_MQTT_USERNAME", "")
	}
	if c.Password == "" {
		c.Password = util.GetEnvOrDefault("PGCDC_MQTT_PASSWORD", "")
	}
}

// Watcher publishes Insert/Update/Delete events to
// "<prefix>/<schema>/<table>/<kind>" MQTT topics.
type Watcher struct {
	watch.Base
	cfg    Config
	client mqtt.Client
}

// New connects to cfg.Servers using paho.mqtt.golang.
func New(cfg Config) (*Watcher, error) {
	cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	for _, s := range cfg.Servers {
		opts.AddBroker(s)
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("watcher/mqtt: connect: %w", token.Error())
	}

	return &Watcher{cfg: cfg, client: client}, nil
}

// OnEvent publishes row-change events; Begin/Commit are no-ops.
func (w *Watcher) OnEvent(e cdcevent.Event) error {
	env, ok := wire.FromEvent(e)
	if !ok {
		return nil
	}

	topic := fmt.Sprintf("%s/%s/%s/%s", prefixOrDefault(w.cfg.TopicPrefix), env.Schema, env.Table, env.Kind)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("watcher/mqtt: marshal event: %w", err)
	}

	token := w.client.Publish(topic, w.cfg.QoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		metrics.PublishErrors.WithLabelValues("mqtt").Inc()
		return fmt.Errorf("watcher/mqtt: publish: %w", err)
	}
	return nil
}

func prefixOrDefault(p string) string {
	if p == "" {
		return "pgcdc"
	}
	return p
}

// Close disconnects from the broker, waiting up to 500ms for in-flight
// publishes to drain, matching the teacher's Disconnect(500).
func (w *Watcher) Close() error {
	w.client.Disconnect(500)
	return nil
}
