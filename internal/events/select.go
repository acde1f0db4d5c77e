package events

import "coinrounds/internal/game"

// Publisher is a game.Publisher that holds a connection.
type Publisher interface {
	game.Publisher
	Close() error
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Kafka)(nil)
)

// ForBrokers returns a Kafka publisher, or Nop when no brokers are configured.
func ForBrokers(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafka(brokers, topic)
}
