// Package mqtt provides MQTT client connectivity for Motion Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is optional. When enabled it carries three kinds of traffic, all
// rooted at the configured topic prefix:
//
//	{prefix}/device/command/{linear,stop}   → external actuator bridge
//	{prefix}/command/{analyze,play,stop}    ← remote control
//	{prefix}/playback/state, system/status  → retained state
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on localhost (cfg.Broker.TLS=true)
//   - Command topics should be ACL-restricted: anything that can publish
//     to them can move the device
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command %s: %s", topics.CommandName(topic), payload)
//	        return nil
//	    })
//
//	client.PublishJSON(topics.PlaybackState(), status, true)
package mqtt
