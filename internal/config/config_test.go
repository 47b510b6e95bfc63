// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
node:
  id: 2
  scheme: sssa
  threshold_policy: fixed:2
server:
  host: 0.0.0.0
  port: 9002
  read_timeout: 5s
logging:
  level: debug
  format: json
ratelimit:
  enabled: true
  requests_per_min: 120
storage:
  backend: file
  path: /var/lib/kmespread
peers:
  - id: 5
    url: http://kme5:9005
  - id: 6
    url: https://kme6:9006
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, int64(2), cfg.Node.ID)
	assert.Equal(t, "sssa", cfg.Node.Scheme)
	assert.Equal(t, "fixed:2", cfg.Node.ThresholdPolicy)
	assert.Equal(t, "0.0.0.0:9002", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	require.Len(t, cfg.Peers, 2)

	p, ok := cfg.Peer(6)
	require.True(t, ok)
	assert.Equal(t, "https://kme6:9006", p.URL)
	_, ok = cfg.Peer(7)
	assert.False(t, ok)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.Node.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KMESPREAD_NODE_ID", "9")
	t.Setenv("KMESPREAD_SCHEME", "vault")
	t.Setenv("KMESPREAD_PORT", "9100")
	t.Setenv("KMESPREAD_LOG_LEVEL", "warn")
	t.Setenv("KMESPREAD_DATA_DIR", "/tmp/kme9")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Node.ID)
	assert.Equal(t, "vault", cfg.Node.Scheme)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/kme9", cfg.Storage.Path)
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("KMESPREAD_NODE_ID", "nine")
	t.Setenv("KMESPREAD_PORT", "70000")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.Node.ID)
	assert.Equal(t, 9002, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown scheme", func(c *Config) { c.Node.Scheme = "xor" }},
		{"bad policy", func(c *Config) { c.Node.ThresholdPolicy = "quorum" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"tls without cert", func(c *Config) { c.TLS.Enabled = true }},
		{"ratelimit without rate", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true} }},
		{"file storage without path", func(c *Config) { c.Storage = StorageConfig{Backend: StorageFile} }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }},
		{"self peer", func(c *Config) { c.Peers = []PeerConfig{{ID: 1, URL: "http://a:1"}} }},
		{"duplicate peer", func(c *Config) {
			c.Peers = []PeerConfig{{ID: 2, URL: "http://a:1"}, {ID: 2, URL: "http://b:1"}}
		}},
		{"peer without scheme", func(c *Config) { c.Peers = []PeerConfig{{ID: 2, URL: "kme2:9000"}} }},
		{"peer with ftp", func(c *Config) { c.Peers = []PeerConfig{{ID: 2, URL: "ftp://kme2"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func writeTestCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "kme-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestLoadTLSConfig(t *testing.T) {
	disabled := &TLSConfig{}
	tlsCfg, err := disabled.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	certFile, keyFile := writeTestCert(t, t.TempDir())
	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ClientAuth: "require_and_verify",
		MinVersion: "TLS1.3",
	}

	server, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, server.ClientAuth)
	assert.Equal(t, uint16(tls.VersionTLS13), server.MinVersion)
	assert.NotNil(t, server.ClientCAs)

	client, err := cfg.LoadClientTLSConfig()
	require.NoError(t, err)
	assert.NotNil(t, client.RootCAs)
	assert.Len(t, client.Certificates, 1)

	cfg.ClientAuth = "sometimes"
	_, err = cfg.LoadTLSConfig()
	assert.Error(t, err)

	cfg.ClientAuth = ""
	cfg.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = cfg.LoadTLSConfig()
	assert.Error(t, err)
}
