// Package transport owns client sessions and the WebSocket command protocol.
//
// The hub never touches the instance registry directly: inbound commands are
// handed to a Commands implementation that queues them onto the runtime run
// loop, and registry output comes back through the instance.Publisher the
// hub implements.
package transport
