// Package transport provides the physical and logical media bindings the
// connection engine runs over: UDP unicast for tunneling, UDP multicast for
// routing, an FT1.2 serial link and a KNX USB HID link, plus an in-memory
// pipe for tests.
//
// All bindings implement the Binding interface: opaque octet frames go out
// through Send and come back, together with medium status changes, on the
// Events channel. A binding never interprets the frames it moves; framing
// specific to the medium (FT1.2 checksums, USB report segmentation) is
// stripped and applied here so that every binding exchanges the same payload
// unit with the layer above.
package transport
