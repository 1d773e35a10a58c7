// Package challenge implements certificate possession authentication for
// exporters: the server issues a random nonce, the exporter signs it with
// the private key matching a registered certificate, and a successful
// verification yields a short-lived bearer token.
package challenge
