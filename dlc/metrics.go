package dlc

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	messages    *prometheus.CounterVec
)

func messageCounter() *prometheus.CounterVec {
	metricsOnce.Do(func() {
		messages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dlcd",
			Name:      "messages_total",
			Help:      "Inbound protocol messages by type and outcome.",
		}, []string{"type", "result"})
		prometheus.MustRegister(messages)
	})
	return messages
}

func observeMessage(msgType uint8, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	messageCounter().WithLabelValues(fmt.Sprintf("%#x", msgType), result).Inc()
}
