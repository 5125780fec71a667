package authcore

import (
	"io"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

// NewChannelSink returns a sink that forwards events to a channel of the
// given capacity. Read them from Events().
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink logs events through logger under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
