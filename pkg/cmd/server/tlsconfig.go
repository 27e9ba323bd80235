package server

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils/certs/traefik"
)

type certSource struct {
	certFile      string
	keyFile       string
	traefikFile   string
	traefikDomain string
}

func (s certSource) configured() bool {
	return (s.certFile != "" && s.keyFile != "") ||
		(s.traefikFile != "" && s.traefikDomain != "")
}

type certs struct {
	src  certSource
	log  *log.Logger
	mu   sync.RWMutex
	cert *tls.Certificate
}

// newTLSConfig returns nil if no usable certificate is configured. The
// certificate is reloaded whenever one of the source files changes.
func newTLSConfig(ctx context.Context, src certSource) *tls.Config {
	c := &certs{
		src: src,
		log: log.GetFromContext(ctx).Named("certs"),
	}
	if !src.configured() {
		return nil
	}
	if err := c.loadCert(); err != nil {
		c.log.Error("could not load certificate", log.ErrorField(err))
		return nil
	}
	go c.watchAndReloadCerts(ctx)
	return &tls.Config{
		GetCertificate: c.getCertificate,
		MinVersion:     tls.VersionTLS13,
	}
}

func (c *certs) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert, nil
}

//nolint:cyclop // by design
func (c *certs) watchAndReloadCerts(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Error("could not create fsnotify watcher", log.ErrorField(err))
		return
	}
	defer watcher.Close()
	for _, f := range []string{c.src.certFile, c.src.keyFile, c.src.traefikFile} {
		if f == "" {
			continue
		}
		if err := watcher.Add(f); err != nil {
			c.log.Error("could not watch file", log.String("file", f), log.ErrorField(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("context done, stopping cert reload")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
				continue
			}
			c.log.Info("cert file changed, reloading cert", log.String("file", event.Name))
			if err := c.loadCert(); err != nil {
				c.log.Error("could not reload certificate, keeping the current one",
					log.ErrorField(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.log.Error("watcher error", log.ErrorField(err))
		}
	}
}

// loadCert prefers the traefik acme store over plain key pair files
func (c *certs) loadCert() error {
	var (
		cert tls.Certificate
		err  error
	)
	if c.src.traefikFile != "" && c.src.traefikDomain != "" {
		c.log.Info("Looking up traefik certs",
			log.String("file", c.src.traefikFile),
			log.String("domain", c.src.traefikDomain))
		cert, err = traefik.CertificateFromFile(c.src.traefikFile, c.src.traefikDomain)
	} else {
		c.log.Info("Loading cert",
			log.String("key", c.src.keyFile),
			log.String("cert", c.src.certFile))
		cert, err = tls.LoadX509KeyPair(c.src.certFile, c.src.keyFile)
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cert = &cert
	return nil
}
