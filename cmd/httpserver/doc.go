// Package main (cmd/httpserver) runs the certificate registry relay.
//
// The relay serves the HTTP API of package httpserver in front of either an
// in-process registry (REGISTRY_MODE=memory) or the deployed registry
// contract (REGISTRY_MODE=onchain). In onchain mode every configured private
// key becomes a transactor, and a signed request is submitted with the key
// of its signer.
//
// Deployment settings come from the environment (see package config); server
// and logging settings from flags. Registry events are logged and, with
// KAFKA_BROKERS set, produced to KAFKA_TOPIC. Replay protection is shared
// between instances through Redis when REDIS_URL is set.
//
// Example usage:
//
//	ADMIN_ADDRESS=0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1 \
//	DATABASE_URI=sqlite:///var/lib/registry/records.db \
//	STORAGE_URIS=file:///var/lib/registry/documents,s3://certificates/?region=eu-west-1 \
//	registry-server --listen-addr=0.0.0.0:8080 --log-json
package main
