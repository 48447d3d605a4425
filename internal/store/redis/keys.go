// Package redis publishes signal snapshots and alerts to Redis: latest
// values as keys with a TTL, history as capped streams, and live updates on
// Pub/Sub channels.
package redis

// Key layout. <sym> is the upper-case instrument symbol.
//
//	sig:latest:<sym>   STRING  newest model.Published (JSON), TTL
//	sig:snap:<sym>     STREAM  publication history, approx MAXLEN
//	pub:sig:<sym>      PUBSUB  every publication
//	sig:alerts         STREAM  every alert, all symbols
//	sig:alerts:<sym>   STREAM  alerts of one symbol
//	pub:alerts         PUBSUB  every alert
const (
	alertsStream  = "sig:alerts"
	alertsChannel = "pub:alerts"
)

func latestKey(sym string) string         { return "sig:latest:" + sym }
func snapStream(sym string) string        { return "sig:snap:" + sym }
func snapChannel(sym string) string       { return "pub:sig:" + sym }
func symbolAlertStream(sym string) string { return alertsStream + ":" + sym }
