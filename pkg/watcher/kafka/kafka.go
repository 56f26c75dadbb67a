// Package kafka publishes row-change events to a Kafka topic per table,
// adapted from the teacher's pkg/pipeline/peer/kafka.PeerKafka (sarama
// SyncProducer, cluster-admin-managed topic provisioning) to the
// watch.Watcher contract.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/util"
	"github.com/edgeflare/pgcdc/pkg/watch"
	"github.com/edgeflare/pgcdc/pkg/watcher/wire"
)

// SASL mirrors the teacher's peer/kafka Config.SASL block.
type SASL struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Mechanism string `json:"mechanism" mapstructure:"mechanism"` // "plain", "sha256", "sha512"
	Username  string `json:"username" mapstructure:"username"`
	Password  string `json:"password" mapstructure:"password"`
}

// Config is this watcher's parameter shape, matching
// the field names and defaults of the teacher's peer/kafka Config.
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Version     string   `mapstructure:"version"`
	Partitions  int32    `mapstructure:"partitions"`
	Replicas    int16    `mapstructure:"replicas"`
	RetentionMS int64    `mapstructure:"retention_ms"`
	SASL        SASL     `mapstructure:"sasl"`
}

func (c *Config) withDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcdc"
	}
	if c.Version == "" {
		c.Version = "2.1.1"
	}
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.RetentionMS == 0 {
		c.RetentionMS = int64((7 * 24 * time.Hour) / time.Millisecond)
	}
	if c.SASL.Enabled {
		if c.SASL.Username == "" {
			c.SASL.Username = util.GetEnvOrDefault("PGCDC_KAFKA_SASL_USERNAME", "")
		}
		if c.SASL.Password == "" {
			c.SASL.Password = util.GetEnvOrDefault("PGCDC_KAFKA_SASL_PASSWORD", "")
		}
	}
}

// Watcher publishes Insert/Update/Delete events to "<prefix>.<schema>.<table>.<kind>"
// Kafka topics. Begin/Commit events are dropped: Kafka has no transaction
// envelope a sink watcher should emit on their behalf.
type Watcher struct {
	watch.Base
	cfg      Config
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	topics   map[string]bool
}

// New connects a sync producer and cluster admin client to cfg.Brokers.
func New(cfg Config) (*Watcher, error) {
	cfg.withDefaults()

	saramaCfg := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("watcher/kafka: parse version %q: %w", cfg.Version, err)
	}
	saramaCfg.Version = version
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Retry.Backoff = time.Second
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	if cfg.SASL.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASL.Username
		saramaCfg.Net.SASL.Password = cfg.SASL.Password
		switch cfg.SASL.Mechanism {
		case "sha256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "sha512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("watcher/kafka: new producer: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, saramaCfg)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("watcher/kafka: new cluster admin: %w", err)
	}

	return &Watcher{cfg: cfg, producer: producer, admin: admin, topics: make(map[string]bool)}, nil
}

// OnEvent publishes row-change events; Begin/Commit are no-ops.
func (w *Watcher) OnEvent(e cdcevent.Event) error {
	env, ok := wire.FromEvent(e)
	if !ok {
		return nil
	}

	topic := wire.Subject(w.cfg.TopicPrefix, env)
	if err := w.ensureTopic(topic); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("watcher/kafka: marshal event: %w", err)
	}

	_, _, err = w.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		metrics.PublishErrors.WithLabelValues("kafka").Inc()
		return fmt.Errorf("watcher/kafka: send message: %w", err)
	}
	return nil
}

// ensureTopic lazily creates the destination topic the first time it's
// published to, mirroring the teacher's ensureDefaultTopic at Connect time
// but scoped per (schema,table,kind) topic instead of one fixed topic.
func (w *Watcher) ensureTopic(topic string) error {
	if w.topics[topic] {
		return nil
	}
	err := w.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     w.cfg.Partitions,
		ReplicationFactor: w.cfg.Replicas,
		ConfigEntries: map[string]*string{
			"retention.ms": strPtr(fmt.Sprintf("%d", w.cfg.RetentionMS)),
		},
	}, false)
	if err != nil && !isTopicExists(err) {
		return fmt.Errorf("watcher/kafka: create topic %q: %w", topic, err)
	}
	w.topics[topic] = true
	return nil
}

func isTopicExists(err error) bool {
	kerr, ok := err.(*sarama.TopicError)
	return ok && kerr.Err == sarama.ErrTopicAlreadyExists
}

func strPtr(s string) *string { return &s }

// Close releases the producer and admin client connections.
func (w *Watcher) Close() error {
	err1 := w.producer.Close()
	err2 := w.admin.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
