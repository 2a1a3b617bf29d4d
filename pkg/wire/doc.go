// Package wire implements SFCP packet framing: header bit-packing, the
// crypto/id-extension/error-reply body variants, forwarding detection, and
// protocol-error packet construction.
//
// All multi-byte integers are little-endian. The wire layout is described
// in the protocol specification section on external interfaces; this
// package only encodes/decodes bytes, it never touches a transport or a
// key.
package wire
