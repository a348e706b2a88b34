// Package storage keeps the documents attached to certificates (diplomas,
// transcripts, institution paperwork) in content-addressed storage.
//
// A document is identified by the SHA-256 hash of its bytes. That identifier
// is independent of the on-chain certificate hash, which covers the
// certificate fields rather than the uploaded file. Certificate and
// institution documents live in separate namespaces.
//
// Backends are created from location URIs:
//
//	file:///var/lib/certificate-registry/
//	s3://[KEY:SECRET@]bucket/prefix/?region=us-west-2&endpoint=minio:9000&path_style=true
//	ipfs://localhost:5001/certificate-registry?timeout=30s
//	vault://[TOKEN@]vault.example.com:8200/secret/certificates?tls=false
//
// Several locations can be combined with CreateMultiBackend. The resulting
// MultiStorageBackend writes to every available backend concurrently and
// reads from the first backend that holds the document.
//
//	factory := storage.NewStorageBackendFactory(logger)
//	docs, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
//	    "file:///var/lib/certificate-registry/",
//	    "s3://certificates/registry/?region=eu-west-1",
//	})
//	id, err := docs.Store(ctx, pdf, interfaces.CertificateDocumentType)
package storage
