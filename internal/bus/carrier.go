package bus

import kafkago "github.com/segmentio/kafka-go"

// HeaderCarrier implements otel's propagation.TextMapCarrier over a
// Kafka message's headers, the kafka.Header rendering of the pack's
// saramaHeaderCarrier pattern.
type HeaderCarrier struct {
	Headers *[]kafkago.Header
}

func (c HeaderCarrier) Get(key string) string {
	for _, h := range *c.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	for i, h := range *c.Headers {
		if h.Key == key {
			(*c.Headers)[i].Value = []byte(value)
			return
		}
	}
	*c.Headers = append(*c.Headers, kafkago.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
