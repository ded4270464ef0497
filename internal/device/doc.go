// Package device defines the Bluetooth Low Energy transport abstraction used by the
// session controller.
//
// It provides:
//   - Transport and Link interfaces covering scan, connect, GATT discovery,
//     characteristic write, notification subscribe/unsubscribe and disconnect
//   - The error taxonomy shared by all layers (TransportError, ProtocolError,
//     TimeoutError, StateError)
//   - UUID normalization so that short, dashed and SIG-base forms compare equal
//
// Concrete radio backends live in sub-packages (see goble).
package device
