// Package protocol implements the SignalR hub protocol wire format used by the
// signalr client.
//
// Hub messages are modelled as a tagged union: every concrete message type
// implements Message and reports its MessageType discriminant. A HubProtocol
// turns messages into frames and back. The MessagePack protocol frames each
// record with a base-128 varint length prefix, so several records can share a
// single websocket message:
//
//	frame := [varint length][msgpack array]
//
// Before any hub message is exchanged, the client sends a JSON handshake
// request terminated by the record separator (0x1E) and waits for the server's
// handshake response.
package protocol
