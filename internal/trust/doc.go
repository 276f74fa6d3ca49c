// Package trust persists the operator's trust decisions about radio
// peripherals and the discovery metadata learned about them.
//
// A field unit is only ever registered after its MAC address has been
// trusted here. Discovery records every sighting; the operator API flips
// the trusted flag.
package trust
