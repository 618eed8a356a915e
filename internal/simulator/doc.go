// Package simulator emulates the security panel's serial protocol.
//
// With serial.use_simulator enabled the bridge talks to a Simulator
// instead of a real device. The simulator keeps a set of sections, each
// READY or ARMED, and answers the panel commands:
//
//	<pin> SET <code>      → STATE <code> ARMED
//	<pin> UNSET <code>    → STATE <code> READY
//	<pin> STATE [<code>]  → STATE <code> <state>, one line per section
//
// A wrong pin yields "ERROR: 3 NO_ACCESS". Arming an armed section,
// disarming a ready one or naming an unknown section yields
// "ERROR: 4 INVALID_VALUE". Responses arrive after response_delay.
//
// Timed rules push unsolicited lines. Both time_next (seconds) and write
// may be !expr expressions; the scope adds random(a, b) and
// prf_random_states(positions, on_prob) to the bridge functions.
package simulator
