package common

var (
	// Version is set at build time with -ldflags "-X github.com/ruteri/certificate-registry/common.Version=..."
	Version = "dev"

	PackageName = "certificate-registry"
)
