// Package insights is a Go client for a live business-insights service.
//
// # Overview
//
// A Session streams microphone audio to the service over one long-lived
// WebSocket and turns the JSON envelopes it sends back into display-ready
// insight cards:
//   - 16 kHz mono PCM capture through PortAudio, 4096 samples per frame
//   - fixed-delay reconnection that never gives up
//   - quality filtering and headline/summary/detail extraction of insights
//   - model catalog tracking and custom agent management
//   - structured logging with Zerolog and Prometheus metrics
//   - optional fan-out of accepted insights to Kafka
//
// # Quick Start
//
//	config, err := insights.LoadConfig("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	session, err := insights.NewSession(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	session.AddInsightHandler(insights.CreateConsoleInsightHandler(os.Stdout, false))
//	session.AddNoticeHandler(insights.CreateNoticeLoggingHandler(nil))
//
//	if err := session.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Event loop
//
// Every state change happens on one goroutine owned by the ConnectionManager:
// transport opens and drops, inbound frames, reconnect timers, microphone
// buffers and user actions. Handlers registered on a Session are called on
// that goroutine, in registration order. Actions such as SetModel block until
// the loop has processed them and fail with ErrNotConnected, plus a notice,
// while the connection is not open. They are never queued.
//
// Audio is sent only while the connection is open. Buffers that arrive at
// any other time are dropped, and no frame is sent after capture stops.
//
// # Configuration
//
// LoadConfig layers defaults, an optional YAML file, a .env file and
// INSIGHTS_* environment variables:
//
//	INSIGHTS_ENDPOINT=wss://insights.example.com/ws
//	INSIGHTS_API_KEY=...
//	INSIGHTS_USE_TOKEN_AUTH=true
//	INSIGHTS_RECONNECT_DELAY=5s
//	INSIGHTS_KAFKA_ENABLED=true
//	INSIGHTS_KAFKA_BROKERS=localhost:9092
package insights
