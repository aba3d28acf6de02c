// Package token provides credential fingerprinting for pacschat.
//
// Bearer credentials must never reach logs. Fingerprint derives a short,
// stable identifier that lets operators correlate log lines about the same
// credential without being able to replay it.
package token
