/*
Package events is an in-memory broker for engine and user lifecycle
events.

The orchestrator publishes one event per start outcome and per stop; the
mutator publishes one per user operation. Subscribers receive every
event on a buffered channel:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

Delivery is best effort. A full queue or subscriber buffer drops the
event and increments Dropped; Publish never blocks the caller.
*/
package events
