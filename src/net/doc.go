// Package net manages the raw connections that gossip sessions run over: a
// pluggable stream layer, an outbound connection pool, and the
// identification preamble that ties an inbound connection to a peer before
// the protocol starts.
package net
