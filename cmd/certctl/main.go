package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/certificate-registry/api"
	"github.com/ruteri/certificate-registry/api/clients"
	"github.com/ruteri/certificate-registry/cmd/flags"
	"github.com/ruteri/certificate-registry/interfaces"
)

var flagPrivateKey = &cli.StringFlag{
	Name:    "private-key",
	EnvVars: []string{"CERTCTL_PRIVATE_KEY"},
	Usage:   "hex-encoded secp256k1 private key used to sign writes",
}
var flagKeystore = &cli.StringFlag{
	Name:  "keystore",
	Usage: "path to an encrypted keystore file used to sign writes",
}
var flagPassword = &cli.StringFlag{
	Name:    "password",
	EnvVars: []string{"CERTCTL_KEYSTORE_PASSWORD"},
	Usage:   "keystore password",
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 2 * time.Minute,
	Usage: "request timeout; onchain writes wait for the transaction to be mined",
}

func main() {
	app := &cli.App{
		Name:  "certctl",
		Usage: "Issue and verify certificates through the registry relay",
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flagPrivateKey,
			flagKeystore,
			flagPassword,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "register-institution",
				Usage: "register the signing key as an institution",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "registration-number"},
					&cli.StringFlag{Name: "responsible"},
					&cli.PathFlag{Name: "document", Usage: "supporting document (png, jpg, jpeg or pdf)"},
				},
				Action: withSigner(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					req := api.RegisterInstitutionRequest{
						Name:               cCtx.String("name"),
						RegistrationNumber: cCtx.String("registration-number"),
						Responsible:        cCtx.String("responsible"),
					}
					path := cCtx.Path("document")
					if path == "" {
						return c.RegisterInstitution(ctx, req)
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return nil, err
					}
					return c.RegisterInstitutionWithDocument(ctx, req, filepath.Base(path), data)
				}),
			},
			{
				Name:      "verify-institution",
				Usage:     "verify a registered institution (admin only)",
				ArgsUsage: "<address>",
				Action: withSigner(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx)
					if err != nil {
						return nil, err
					}
					return c.VerifyInstitution(ctx, id)
				}),
			},
			{
				Name:      "institution",
				Usage:     "show an institution",
				ArgsUsage: "<address>",
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx)
					if err != nil {
						return nil, err
					}
					return c.Institution(ctx, id)
				}),
			},
			{
				Name:  "register-certificate",
				Usage: "upload a certificate document and register it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "student", Required: true},
					&cli.StringFlag{Name: "issue-date", Required: true, Usage: "YYYY-MM-DD or unix seconds"},
					&cli.PathFlag{Name: "file", Required: true, Usage: "certificate document (png, jpg, jpeg or pdf)"},
					&cli.StringFlag{Name: "hash", Usage: "certificate hash; defaults to the keccak256 of the file"},
				},
				Action: withSigner(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					issueDate, err := parseIssueDate(cCtx.String("issue-date"))
					if err != nil {
						return nil, err
					}
					path := cCtx.Path("file")
					data, err := os.ReadFile(path)
					if err != nil {
						return nil, err
					}

					upload := api.CertificateUpload{
						StudentName:  cCtx.String("student"),
						IssueDate:    issueDate,
						DocumentName: filepath.Base(path),
						Document:     data,
					}
					if raw := cCtx.String("hash"); raw != "" {
						if upload.Hash, err = interfaces.NewCertificateHashFromHex(raw); err != nil {
							return nil, err
						}
					}
					return c.RegisterCertificate(ctx, upload)
				}),
			},
			{
				Name:      "certificate",
				Usage:     "show a certificate",
				ArgsUsage: "<hash>",
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					hash, err := interfaces.NewCertificateHashFromHex(cCtx.Args().First())
					if err != nil {
						return nil, err
					}
					return c.Certificate(ctx, hash)
				}),
			},
			{
				Name:      "download",
				Usage:     "download the document of a certificate",
				ArgsUsage: "<hash>",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "out", Usage: "output path; defaults to the uploaded file name"},
				},
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					hash, err := interfaces.NewCertificateHashFromHex(cCtx.Args().First())
					if err != nil {
						return nil, err
					}
					doc, err := c.Document(ctx, hash)
					if err != nil {
						return nil, err
					}

					out := cCtx.Path("out")
					if out == "" {
						out = filepath.Base(doc.Name)
					}
					if out == "" || out == "." || out == "/" {
						out = hash.String()
					}
					if err := os.WriteFile(out, doc.Data, 0o644); err != nil {
						return nil, err
					}
					return map[string]any{"path": out, "media_type": doc.MediaType, "bytes": len(doc.Data)}, nil
				}),
			},
			{
				Name:  "admin",
				Usage: "show the current admin",
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					admin, err := c.Admin(ctx)
					if err != nil {
						return nil, err
					}
					return map[string]any{"admin": admin}, nil
				}),
			},
			{
				Name:      "transfer-admin",
				Usage:     "hand the admin role to another address (admin only)",
				ArgsUsage: "<address>",
				Action: withSigner(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx)
					if err != nil {
						return nil, err
					}
					return c.TransferAdmin(ctx, id)
				}),
			},
			{
				Name:  "events",
				Usage: "list registry events",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "from", Usage: "first block"},
				},
				Action: withReader(func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					return c.Events(ctx, cCtx.Uint64("from"))
				}),
			},
			{
				Name:      "hash",
				Usage:     "print the certificate hash of a file",
				ArgsUsage: "<file>",
				Action: func(cCtx *cli.Context) error {
					data, err := os.ReadFile(cCtx.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(interfaces.ComputeCertificateHash(data).String())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type commandFn func(ctx context.Context, cCtx *cli.Context, c *clients.RegistryClient) (any, error)

func withReader(fn commandFn) cli.ActionFunc {
	return run(fn, false)
}

func withSigner(fn commandFn) cli.ActionFunc {
	return run(fn, true)
}

func run(fn commandFn, signed bool) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		var key *ecdsa.PrivateKey
		if signed {
			var err error
			if key, err = loadKey(cCtx); err != nil {
				return err
			}
		}

		timeout := cCtx.Duration(flagTimeout.Name)
		client := clients.NewRegistryClient(strings.TrimRight(cCtx.String(flags.ServerAddrFlag.Name), "/"), key, timeout)

		ctx, cancel := context.WithTimeout(cCtx.Context, timeout)
		defer cancel()

		result, err := fn(ctx, cCtx, client)
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}
}

func loadKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	if hexKey := cCtx.String(flagPrivateKey.Name); hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("could not parse private key: %w", err)
		}
		return key, nil
	}

	path := cCtx.String(flagKeystore.Name)
	if path == "" {
		return nil, errors.New("this command needs --private-key or --keystore")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := keystore.DecryptKey(encrypted, cCtx.String(flagPassword.Name))
	if err != nil {
		return nil, fmt.Errorf("could not decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func identityArg(cCtx *cli.Context) (interfaces.Identity, error) {
	if cCtx.NArg() != 1 {
		return interfaces.Identity{}, fmt.Errorf("expected one address argument, got %d", cCtx.NArg())
	}
	return interfaces.NewIdentityFromHex(cCtx.Args().First())
}

// parseIssueDate accepts a calendar date (UTC midnight) or unix seconds.
func parseIssueDate(s string) (uint64, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if t.Unix() <= 0 {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrInvalidDate, s)
		}
		return uint64(t.Unix()), nil
	}
	ts, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor unix seconds", interfaces.ErrInvalidDate, s)
	}
	return ts, nil
}
