// Package cemi implements the common External Message Interface (cEMI)
// frame format defined in KNX Standard 03_06_03 (EMI/IMI).
//
// cEMI is the medium-independent representation of a KNX link-layer frame:
// the same encoding is carried inside KNXnet/IP tunneling requests, routing
// indications, FT1.2 serial frames and USB transfer packets. The package
// provides the Frame value type, the individual/group address model and a
// deterministic codec between frames and wire octets.
package cemi
