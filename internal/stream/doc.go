// Package stream implements the channel-multiplexed websocket protocol used
// by the Kubernetes exec, attach and portforward subresources.
//
// Every binary message is one frame. Its first byte is the channel id and the
// rest is the payload. Inbound frames are handed to a FrameHandler from a
// single reader goroutine in arrival order; outbound frames are serialized so
// concurrent writers never interleave.
package stream
