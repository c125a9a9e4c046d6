// Package kafka feeds position reports from a Kafka topic into the ingest
// service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/ingest"
)

type Consumer struct {
	reader *kafkago.Reader
	svc    *ingest.Service
	log    *logrus.Logger
}

func NewConsumer(brokers []string, topic, groupID string, svc *ingest.Service, log *logrus.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, svc: svc, log: log}
}

// Run consumes until the context is canceled. Malformed or invalid reports
// are logged and committed so a poison message never wedges the partition.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var report domain.PositionReport
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			c.log.WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"error":     err,
			}).Warn("undecodable position report")
		} else if _, err := c.svc.Submit(ctx, &report); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				c.log.WithFields(logrus.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
					"error":     verr,
				}).Warn("rejected position report")
			} else {
				c.log.WithError(err).Error("submit failed")
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
