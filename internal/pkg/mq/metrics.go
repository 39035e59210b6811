package mq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_messages_produced_total",
		Help: "Messages successfully written to Kafka.",
	}, []string{"topic"})

	messagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_messages_produce_failed_total",
		Help: "Messages that could not be written after all writer attempts.",
	}, []string{"topic"})

	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_messages_consumed_total",
		Help: "Messages handled by consumers, partitioned by outcome.",
	}, []string{"topic", "result"})

	messageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_message_retries_total",
		Help: "Handler retries triggered by transient failures.",
	}, []string{"topic"})

	deadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_dead_letters_total",
		Help: "Messages routed to a dead-letter topic.",
	}, []string{"topic"})
)
