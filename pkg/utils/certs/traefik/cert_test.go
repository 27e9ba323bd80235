//nolint:lll,funlen // readablity
package traefik

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindEntry(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		domain   string
		cert     string
		key      string
		wantErr  error
	}{
		{
			name:     "Success",
			jsonData: `{"dummy":{"Certificates":[{"domain":{"main":"example.com"}, "certificate": "cert1", "key": "key1"}]}}`,
			domain:   "example.com",
			cert:     "cert1",
			key:      "key1",
		},
		{
			name:     "Wildcard domain",
			jsonData: `{"myresolver":{"Certificates":[{"domain":{"main":"other.com"}, "certificate": "c0", "key": "k0"},{"domain":{"main":"*.example.com"}, "certificate": "cert1", "key": "key1"}]}}`,
			domain:   "*.example.com",
			cert:     "cert1",
			key:      "key1",
		},
		{
			name:     "Domain not found",
			jsonData: `{"dummy":{"Certificates":[{"domain":{"main":"example.com"}, "certificate": "cert1", "key": "key1"}]}}`,
			domain:   "notfound.com",
			wantErr:  ErrDomainNotFound,
		},
		{
			name:     "Empty json",
			jsonData: `{}`,
			domain:   "notfound.com",
			wantErr:  ErrDomainNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findEntry([]byte(tt.jsonData), tt.domain)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cert, got.Certificate)
			assert.Equal(t, tt.key, got.Key)
		})
	}
}

func selfSigned(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}

func TestCertificateFromFile(t *testing.T) {
	certPEM, keyPEM := selfSigned(t, "timing.example.com")
	store := fmt.Sprintf(
		`{"le":{"Certificates":[{"domain":{"main":"timing.example.com"},"certificate":%q,"key":%q}]}}`,
		base64.StdEncoding.EncodeToString(certPEM),
		base64.StdEncoding.EncodeToString(keyPEM))
	file := filepath.Join(t.TempDir(), "acme.json")
	require.NoError(t, os.WriteFile(file, []byte(store), 0o600))

	cert, err := CertificateFromFile(file, "timing.example.com")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "timing.example.com", parsed.Subject.CommonName)

	_, err = CertificateFromFile(file, "other.example.com")
	assert.ErrorIs(t, err, ErrDomainNotFound)

	_, err = CertificateFromFile(filepath.Join(t.TempDir(), "missing.json"), "x")
	assert.Error(t, err)
}
