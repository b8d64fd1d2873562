package sge

import (
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/common"
	"github.com/raterudder/sgetiers/pkg/types"
	"golang.org/x/time/rate"
)

// Config holds the settings shared by every device client.
type Config struct {
	BaseURL string
	// CertificateDir is where operators drop device certificates and keys.
	CertificateDir    string
	Timeout           time.Duration
	RequestsPerSecond int
	Burst             int
}

// Configured registers the sge flags and returns a Map using them.
func Configured() *Map {
	m := NewMap(Config{})
	baseURL := lflag.String("sge-base-url", "", "Base URL of the SGE B2B gateway (defaults to production or homologation)")
	homologation := lflag.Bool("sge-homologation", false, "Use the SGE homologation gateway")
	certDir := lflag.String("sge-certificate-dir", "/home/sgetiers/certificates", "Directory holding device certificates and private keys")
	timeout := lflag.Duration("sge-timeout", 30*time.Second, "Timeout of a single SGE request")
	rps := lflag.Int("sge-requests-per-second", 2, "Maximum SGE requests per second per device, 0 disables the limit")
	burst := lflag.Int("sge-requests-burst", 5, "Burst of SGE requests allowed above the rate")

	lflag.Do(func() {
		cfg := Config{
			BaseURL:           *baseURL,
			CertificateDir:    *certDir,
			Timeout:           *timeout,
			RequestsPerSecond: *rps,
			Burst:             *burst,
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = ProductionURL
			if *homologation {
				cfg.BaseURL = HomologationURL
			}
		}
		m.SetConfig(cfg)
	})
	return m
}

type mapEntry struct {
	certificateRef string
	privateKeyRef  string
	backend        Backend
}

// Map caches one Backend per device. A device whose certificate or key
// changed gets a new client.
type Map struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]mapEntry
}

// NewMap creates a new Map.
func NewMap(cfg Config) *Map {
	return &Map{
		cfg:     cfg,
		clients: make(map[string]mapEntry),
	}
}

// SetConfig replaces the configuration and drops cached clients.
func (m *Map) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.clients = make(map[string]mapEntry)
}

// Device returns the backend for the device, creating it on first use.
func (m *Map) Device(deviceID string, creds types.DeviceCredentials) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.clients[deviceID]; ok {
		if e.certificateRef == creds.CertificateRef && e.privateKeyRef == creds.PrivateKeyRef {
			return e.backend, nil
		}
	}

	cert, err := m.loadCertificate(creds)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if m.cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), max(m.cfg.Burst, 1))
	}
	c := NewClient(m.cfg.BaseURL, common.MutualTLSClient(m.cfg.Timeout, cert), limiter)
	m.clients[deviceID] = mapEntry{
		certificateRef: creds.CertificateRef,
		privateKeyRef:  creds.PrivateKeyRef,
		backend:        c,
	}
	return c, nil
}

// SetBackend sets the backend for a device. This is primarily used for testing.
func (m *Map) SetBackend(deviceID string, creds types.DeviceCredentials, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[deviceID] = mapEntry{
		certificateRef: creds.CertificateRef,
		privateKeyRef:  creds.PrivateKeyRef,
		backend:        b,
	}
}

func (m *Map) loadCertificate(creds types.DeviceCredentials) (tls.Certificate, error) {
	certPath, err := m.resolve(creds.CertificateRef)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPath, err := m.resolve(creds.PrivateKeyRef)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load certificate %s: %w", creds.CertificateRef, err)
	}
	return cert, nil
}

// resolve maps a reference to a file inside the certificate directory.
func (m *Map) resolve(ref string) (string, error) {
	if ref == "" || filepath.Base(ref) != ref || ref == "." || ref == ".." {
		return "", fmt.Errorf("%w: invalid file reference %q", types.ErrInvalidCredentials, ref)
	}
	return filepath.Join(m.cfg.CertificateDir, ref), nil
}
