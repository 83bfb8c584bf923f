// Package mqtt publishes pgdesk events to an MQTT broker.
//
// When enabled, terminal output and query events are mirrored to topics
// under a configurable prefix so other tools can follow a session:
//
//	pgdesk/system/status    retained online/offline status (with LWT)
//	pgdesk/terminal/data    raw PTY output chunks
//	pgdesk/query/executed   one JSON document per statement
//
// The Emitter adapts a Client to the terminal Emitter interface and never
// blocks the caller; a slow or absent broker loses events instead of
// stalling the terminal.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	em := mqtt.NewEmitter(client, client.Topics(), client.QoS(), 0, logger)
//	defer em.Close()
package mqtt
