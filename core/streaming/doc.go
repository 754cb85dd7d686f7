// Package streaming bridges a client WebSocket to an upstream exec WebSocket.
//
// A Bridge runs one forwarding goroutine per direction. Each goroutine moves
// exactly one frame at a time and blocks on the sink's write, so a slow reader
// on either side throttles the source instead of growing a queue. Whichever
// direction ends first tears down both connections exactly once, choosing the
// close codes each peer sees:
//
//	client closed or failed      -> upstream 1000
//	upstream closed normally     -> client 1000
//	upstream failed or errored   -> client 1011 "Sprites connection error"
//	parent context cancelled     -> both 1001
//
// Frames from the client that parse as a resize control message are sent
// upstream as text frames; every other client frame is sent as binary stdin.
// Upstream frames reach the client verbatim with their original type. An
// upstream {"error": ...} frame is delivered to the client and then ends the
// session.
//
// Example usage:
//
//	logger := log.With().Str("sprite", name).Logger()
//	bridge := streaming.NewBridge(clientConn, upstreamConn, logger,
//		streaming.WithWriteTimeout(10*time.Second),
//		streaming.WithPingInterval(30*time.Second))
//	outcome := bridge.Run(ctx)
//	logger.Info().Str("reason", outcome.Reason()).Msg("Session ended")
package streaming
