// Package gateway exposes supervisor events and commands to controllers over WebSocket.
//
// Every event for the slots a connection subscribes to is delivered to it in the order the hub received it. Each
// connection has a bounded buffer, and when a controller falls behind the oldest buffered events are dropped so that
// publishers never block.
package gateway
