package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/nurture/pkg/channels/gochannel"
	"github.com/dukex/nurture/pkg/channels/kafka"
	"github.com/dukex/nurture/pkg/eventbus"
)

// EventBusConfig selects and configures the event bus.
type EventBusConfig struct {
	Provider    string
	Brokers     string
	ServiceName string
	OTELEnabled bool
}

// NewEventBus creates the event bus of the configured provider: "gochannel" (in-process)
// or "kafka".
func NewEventBus(config EventBusConfig, logger *slog.Logger) (eventbus.EventBus, error) {
	wlogger := watermill.NewSlogLogger(logger)

	switch config.Provider {
	case "", "gochannel":
		pub, sub := gochannel.CreateChannel(wlogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wlogger, kafka.ParseBrokers(config.Brokers), config.ServiceName, config.OTELEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.Provider)
	}
}

// IsDistributed reports whether events published on the bus reach other processes.
func (c EventBusConfig) IsDistributed() bool {
	return c.Provider == "kafka"
}
