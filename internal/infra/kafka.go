package infra

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter builds a writer for topic on the given brokers. Connections
// are established lazily on the first write.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}
