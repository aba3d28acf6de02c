// Package seal protects the stored credential at rest.
//
// A key is derived from an operator passphrase with Argon2id and the
// credential is sealed with NaCl secretbox. The encoded form carries the KDF
// parameters and salt, so a credential sealed under older settings still
// opens after the defaults change.
//
// Encoded format:
//
//	$pcs1$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<nonce+box_b64>
package seal
