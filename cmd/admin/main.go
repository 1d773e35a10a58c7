package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/openmetrica/analytics-vault-backend/cryptoutils"
)

var flagServerAddr = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "vault server address",
}

var flagAdminToken = &cli.StringFlag{
	Name:     "admin-token",
	Usage:    "token for administration endpoints",
	EnvVars:  []string{"ADMIN_TOKEN"},
	Required: true,
}

var flagAppName = &cli.StringFlag{
	Name:     "app-name",
	Usage:    "application name",
	Required: true,
}

var flagExporterPrivkey = &cli.StringFlag{
	Name:  "exporter-privkey-file",
	Value: "exporter-private.pem",
	Usage: "path to the exporter private key",
}

var flagExporterCert = &cli.StringFlag{
	Name:  "exporter-cert-file",
	Value: "exporter-cert.pem",
	Usage: "path to the exporter certificate",
}

func main() {
	app := &cli.App{
		Name:  "vault-admin",
		Usage: "Administer applications and exporter certificates",
		Commands: []*cli.Command{
			{
				Name:        "create-app",
				Usage:       "register a new application",
				Description: "Registers an application with its API token and optional property schema (JSON file mapping property names to kinds).",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdminToken,
					flagAppName,
					&cli.StringFlag{
						Name:     "api-token",
						Usage:    "API token uploads will authenticate with",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "schema-file",
						Usage: "JSON file mapping property names to kinds (int, double, string, time, uuid)",
					},
				},
				Action: createApp,
			},
			{
				Name:        "generate-exporter",
				Usage:       "generate an exporter keypair and certificate",
				Description: "Creates a P-256 keypair and a self-signed certificate with the digital-signature usage flag, written as PEM files.",
				Flags: []cli.Flag{
					flagExporterPrivkey,
					flagExporterCert,
					&cli.StringFlag{
						Name:  "common-name",
						Value: "exporter",
						Usage: "certificate subject common name",
					},
					&cli.DurationFlag{
						Name:  "validity",
						Value: 365 * 24 * time.Hour,
						Usage: "certificate validity period",
					},
				},
				Action: generateExporter,
			},
			{
				Name:        "register-cert",
				Usage:       "register an exporter certificate for an application",
				Flags: []cli.Flag{
					flagServerAddr,
					flagAdminToken,
					flagAppName,
					flagExporterCert,
					&cli.StringFlag{
						Name:  "label",
						Usage: "human-readable label for the certificate",
					},
				},
				Action: registerCert,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func createApp(cCtx *cli.Context) error {
	schema := map[string]string{}
	if schemaFile := cCtx.String("schema-file"); schemaFile != "" {
		data, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		if err := json.Unmarshal(data, &schema); err != nil {
			return fmt.Errorf("invalid schema file: %w", err)
		}
	}

	resp, err := postJSON(cCtx, "/api/admin/applications", map[string]any{
		"name":            cCtx.String(flagAppName.Name),
		"api_token":       cCtx.String("api-token"),
		"property_schema": schema,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp)
	return nil
}

func generateExporter(cCtx *cli.Context) error {
	_, priv, err := cryptoutils.RandomP256Keypair()
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	certPEM, err := cryptoutils.CreateExporterCertificate(priv, cCtx.String("common-name"), cCtx.Duration("validity"))
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	privFile := cCtx.String(flagExporterPrivkey.Name)
	if err := os.WriteFile(privFile, priv, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	certFile := cCtx.String(flagExporterCert.Name)
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	cert, err := certPEM.GetX509Cert()
	if err != nil {
		return err
	}
	keyID, err := cryptoutils.CertificateKeyID(cert)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s\nkey id: %s\n", privFile, certFile, keyID.String())
	return nil
}

func registerCert(cCtx *cli.Context) error {
	certPEM, err := os.ReadFile(cCtx.String(flagExporterCert.Name))
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	path := fmt.Sprintf("/api/admin/applications/%s/certificates", cCtx.String(flagAppName.Name))
	resp, err := postJSON(cCtx, path, map[string]any{
		"role":  "exporter-auth",
		"label": cCtx.String("label"),
		"pem":   certPEM,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp)
	return nil
}

func postJSON(cCtx *cli.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(cCtx.Context, http.MethodPost,
		cCtx.String(flagServerAddr.Name)+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", cCtx.String(flagAdminToken.Name))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %s: %s", resp.Status, string(respBody))
	}
	return string(respBody), nil
}
