package transport

import (
	"charsync/internal/providers"
	"charsync/internal/structures"
	"fmt"
)

// NewFactory selects the transport named by transport.driver. The cleanup
// stops any shared listener.
func NewFactory(conf *structures.Config, logger providers.Logger) (Factory, func(), error) {
	switch conf.Transport.Driver {
	case "websocket":
		hub := NewWebSocketHub(conf.Transport.ListenAddr, conf.Transport.Peers, conf.Sync.WithDefaults().MaxPayloadBytes, logger)
		cleanup := func() {
			if err := hub.Close(); err != nil {
				logger.Warnf(providers.TypeTransport, "Closing listener: %s", err)
			}
		}
		return hub.Factory(), cleanup, nil
	case "loopback", "":
		logger.Infof(providers.TypeTransport, "Using in-process loopback transport")
		return NewLoopbackHub().Factory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown transport driver %q", conf.Transport.Driver)
}
