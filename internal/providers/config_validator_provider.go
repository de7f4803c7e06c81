package providers

import (
	"charsync/internal/structures"
	"fmt"

	"github.com/gookit/validate"
)

type CnfValidator struct {
	conf *structures.Config
}

func NewCnfValidator(conf *structures.Config) *CnfValidator {
	return &CnfValidator{conf: conf}
}

func (cv *CnfValidator) Validate() error {
	v := validate.Struct(cv.conf)
	v.StopOnError = false
	if !v.Validate() {
		return fmt.Errorf("invalid config: %s", v.Errors.Error())
	}
	if cv.conf.Transport.Driver == "websocket" && cv.conf.Transport.ListenAddr == "" {
		return fmt.Errorf("invalid config: transport.listenAddr is required for the websocket driver")
	}
	if cv.conf.Sync.MaxPayloadBytes < 0 {
		return fmt.Errorf("invalid config: sync.maxPayloadBytes must not be negative")
	}
	return nil
}
