// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

// Config configures a [Client].
type Config struct {
	// ConnectOnInvoke, if true (the default), triggers Transport.Connect
	// on every procedure invocation. Set false to manage connection
	// timing yourself.
	ConnectOnInvoke bool
	// EagerlyConnect, if true, connects to the server immediately when
	// the client is constructed rather than lazily on first invocation.
	// Restored from the reference implementation's eagerly_connect (see
	// SPEC_FULL.md supplemented features).
	EagerlyConnect bool
}

// DefaultConfig returns a Config with ConnectOnInvoke enabled and
// EagerlyConnect disabled, matching the reference client's defaults.
func DefaultConfig() Config {
	return Config{ConnectOnInvoke: true}
}
