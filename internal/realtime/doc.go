// Package realtime maintains the websocket channel the server uses to
// push sync events. It owns connection state, heartbeats, reconnection
// with backoff, and prefix-routed message dispatch; the connection
// policy decides when the channel should be up at all.
package realtime
