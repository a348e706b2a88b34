/*
Package clients provides a client library for the certificate registry relay.

RegistryClient signs every write with the caller's Ethereum key using the
scheme in package auth, so the relay sees the key's address as the caller.
A client created without a key can only read.

Non-2xx responses are returned as *APIError. APIError unwraps to the
registry error named by its code:

	_, err := client.RegisterCertificate(ctx, upload)
	if errors.Is(err, interfaces.ErrDuplicateCertificate) {
		// already issued
	}

# Example Usage

	key, _ := crypto.HexToECDSA("your-private-key-hex")
	client := clients.NewRegistryClient("https://registry.example.com", key)

	resp, err := client.RegisterCertificate(ctx, api.CertificateUpload{
		StudentName:  "Alice",
		IssueDate:    uint64(time.Now().Unix()),
		DocumentName: "diploma.pdf",
		Document:     pdf,
	})
*/
package clients
