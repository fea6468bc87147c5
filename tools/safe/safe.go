package safe

import (
	"CareBridge/logger"
)

// Go starts a goroutine that recovers from panic, so a misbehaving
// event handler or sweeper cannot crash the whole gateway.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
