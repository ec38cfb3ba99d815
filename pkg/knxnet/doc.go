// Package knxnet implements the KNXnet/IP service layer defined in KNX
// Standard 03_08: the common six-octet header and the service bodies used
// for discovery, connection management, tunneling and routing.
//
// A service is packed as header || body and parsed back with Unpack, which
// dispatches on the service identifier. Unknown service families decode to
// an UnsupportedServiceError so that receivers can skip them without
// dropping the connection.
package knxnet
