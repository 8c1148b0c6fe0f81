package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/tgrady/market-risk-service/internal/models"
)

// BarStore is the subset of the price store the consumer writes through.
type BarStore interface {
	UpsertBars(bars []models.PriceBar, overwrite bool) error
}

// Invalidator drops cached entries for a symbol after its bars change.
type Invalidator interface {
	InvalidateSymbol(ctx context.Context, symbol string) (int, error)
}

// Consumer ingests bar-correction events. Providers occasionally restate
// historical bars (splits, dividend adjustments, bad ticks); a correction
// always overwrites the stored bar and invalidates every cache entry built
// on it.
type Consumer struct {
	reader      *kafka.Reader
	store       BarStore
	invalidator Invalidator
	audit       *Producer
}

// NewConsumer creates a new Kafka consumer for correction events. audit may
// be nil.
func NewConsumer(brokers []string, topic, groupID string, store BarStore, invalidator Invalidator, audit *Producer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:      reader,
		store:       store,
		invalidator: invalidator,
		audit:       audit,
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting Kafka consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Kafka consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading message: %v", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				log.Printf("Error processing message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	log.Printf("Received message from partition %d offset %d: key=%s",
		msg.Partition, msg.Offset, string(msg.Key))

	var event models.CorrectionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal correction event: %w", err)
	}

	if event.EventType != models.EventBarCorrection {
		log.Printf("Ignoring event type: %s", event.EventType)
		return nil
	}
	if event.Symbol == "" || len(event.Bars) == 0 {
		return fmt.Errorf("correction from %s missing symbol or bars", event.Source)
	}

	bars, err := c.convertEventBars(event)
	if err != nil {
		return fmt.Errorf("failed to convert correction bars: %w", err)
	}

	// Corrections always win over stored data.
	if err := c.store.UpsertBars(bars, true); err != nil {
		return fmt.Errorf("failed to apply correction for %s: %w", event.Symbol, err)
	}

	// Cached series and analysis built on the old bars are now wrong.
	if c.invalidator != nil {
		if _, err := c.invalidator.InvalidateSymbol(ctx, event.Symbol); err != nil {
			return fmt.Errorf("failed to invalidate caches for %s: %w", event.Symbol, err)
		}
	}

	if c.audit != nil {
		_ = c.audit.Publish(ctx, models.DataEvent{
			EventType: models.EventCorrectionApplied,
			Symbol:    event.Symbol,
			Provider:  event.Source,
			Count:     len(bars),
			Timestamp: time.Now().UTC(),
		})
	}

	log.Printf("Applied %d corrected bars for %s from %s", len(bars), event.Symbol, event.Source)
	return nil
}

// convertEventBars parses the wire-form bars into stored form.
func (c *Consumer) convertEventBars(event models.CorrectionEvent) ([]models.PriceBar, error) {
	bars := make([]models.PriceBar, 0, len(event.Bars))
	for _, wb := range event.Bars {
		date, err := time.Parse("2006-01-02", wb.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %s: %w", wb.Date, err)
		}
		open, err := decimal.NewFromString(wb.Open)
		if err != nil {
			return nil, fmt.Errorf("invalid open %s: %w", wb.Open, err)
		}
		high, err := decimal.NewFromString(wb.High)
		if err != nil {
			return nil, fmt.Errorf("invalid high %s: %w", wb.High, err)
		}
		low, err := decimal.NewFromString(wb.Low)
		if err != nil {
			return nil, fmt.Errorf("invalid low %s: %w", wb.Low, err)
		}
		closePrice, err := decimal.NewFromString(wb.Close)
		if err != nil {
			return nil, fmt.Errorf("invalid close %s: %w", wb.Close, err)
		}
		bars = append(bars, models.PriceBar{
			Symbol:    event.Symbol,
			Date:      date,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    wb.Volume,
			FetchedAt: time.Now().UTC(),
		})
	}
	return bars, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
