// Package main (cmd/certctl) is the command-line client of the certificate
// registry relay.
//
// Reads need no key. Writes are signed with the key given by --private-key
// (hex) or --keystore/--password (an encrypted go-ethereum keystore file),
// and run as that key's address:
//
//	register-institution  register the signer as an institution
//	verify-institution    verify an institution (admin key)
//	register-certificate  upload a document and register its certificate
//	transfer-admin        hand the admin role to another address (admin key)
//
//	institution, certificate, download, admin, events  query the registry
//	hash                  print the certificate hash of a local file
//
// Example usage:
//
//	certctl --server=http://localhost:8080 --private-key=$ISSUER_KEY \
//	    register-certificate --student="Alice Doe" --issue-date=2024-06-30 --file=diploma.pdf
//
//	certctl certificate 0x5f1c...e2
package main
