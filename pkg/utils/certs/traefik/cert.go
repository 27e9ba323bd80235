// Package traefik reads certificates from a traefik acme.json store.
package traefik

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var ErrDomainNotFound = errors.New("domain not found in traefik store")

type certEntry struct {
	Certificate string `json:"certificate"`
	Key         string `json:"key"`
}

func CertificateFromFile(file, domain string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, err
	}
	return CertificateFromJSON(data, domain)
}

// CertificateFromJSON extracts the key pair of domain. The domain has to match
// the main domain of the entry, wildcards are compared literally.
func CertificateFromJSON(data []byte, domain string) (tls.Certificate, error) {
	entry, err := findEntry(data, domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM, err := base64.StdEncoding.DecodeString(entry.Certificate)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}
	keyPEM, err := base64.StdEncoding.DecodeString(entry.Key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode key: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func findEntry(data []byte, domain string) (*certEntry, error) {
	obj, err := oj.Parse(data)
	if err != nil {
		return nil, err
	}
	path, err := jp.ParseString(
		fmt.Sprintf(`$..Certificates[?(@.domain.main == %q)]`, domain))
	if err != nil {
		return nil, err
	}
	res := path.First(obj)
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}
	ret := certEntry{}
	if err := oj.Unmarshal([]byte(oj.JSON(res)), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
