// Package netgate blocks the upload worker until the network can carry an
// upload.
//
// Readiness is a HEAD request to the upload host polled at a fixed interval
// with no retry ceiling. Optionally uploads also wait while devices outside a
// known list appear in the ARP table, so a shared uplink is left alone while
// it is in use.
package netgate
