package efi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pkcs12"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindCanceled    ErrorKind = "canceled"
	KindConnection  ErrorKind = "connection"
	KindCertificate ErrorKind = "certificate"
	KindEncoding    ErrorKind = "encoding"
)

// TransportError is returned when a request never produced an HTTP status.
type TransportError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("efi transport %s [%s]: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

// CertConfig points to an optional PKCS#12 client certificate for mTLS.
type CertConfig struct {
	Path       string
	Passphrase string
}

// Request is a single JSON call against the gateway.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
}

// Response carries the raw status and the decoded body. Status codes are
// not interpreted here.
type Response struct {
	Status int
	Body   map[string]any
}

// Transport executes JSON requests with a hard timeout and an optional
// client certificate.
type Transport struct {
	timeout time.Duration
	cert    CertConfig
	logger  *zap.Logger

	once    sync.Once
	client  *http.Client
	initErr error
}

// NewTransport creates a Transport. The certificate, if any, is read from
// disk on first use and kept for the lifetime of the Transport.
func NewTransport(timeout time.Duration, cert CertConfig, logger *zap.Logger) *Transport {
	return &Transport{
		timeout: timeout,
		cert:    cert,
		logger:  logger,
	}
}

// CertConfigured reports whether a client certificate path was provided.
func (t *Transport) CertConfigured() bool {
	return t.cert.Path != ""
}

func (t *Transport) httpClient() (*http.Client, error) {
	t.once.Do(func() {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if t.cert.Path != "" {
			tlsConfig, err := loadCertificate(t.cert.Path, t.cert.Passphrase)
			if err != nil {
				t.logger.Error("efi: failed to load client certificate",
					zap.String("cert_path", t.cert.Path),
					zap.Error(err),
				)
				t.initErr = err
				return
			}
			base.TLSClientConfig = tlsConfig
			t.logger.Info("efi: client certificate loaded", zap.String("cert_path", t.cert.Path))
		}
		t.client = &http.Client{Transport: base}
	})
	return t.client, t.initErr
}

// RequestJSON sends req and returns the status and decoded body.
func (t *Transport) RequestJSON(ctx context.Context, req Request) (*Response, error) {
	client, err := t.httpClient()
	if err != nil {
		return nil, &TransportError{Kind: KindCertificate, URL: req.URL, Err: err}
	}

	var reqBody io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &TransportError{Kind: KindEncoding, URL: req.URL, Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reqBody)
	if err != nil {
		return nil, &TransportError{Kind: KindConnection, URL: req.URL, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: classifyIOError(err), URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: classifyIOError(err), URL: req.URL, Err: err}
	}

	t.logger.Debug("efi: transport response",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
	)

	return &Response{Status: resp.StatusCode, Body: decodeBody(raw)}, nil
}

func classifyIOError(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

// decodeBody never fails: an empty body becomes {}, invalid JSON becomes
// {"raw": text} and a non-object JSON value becomes {"data": value}.
func decodeBody(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"data": v}
}

// loadCertificate reads a .p12/.pfx bundle. Bundles carrying a chain are
// converted through PEM since pkcs12.Decode accepts a single certificate.
func loadCertificate(certPath, password string) (*tls.Config, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	privateKey, certificate, err := pkcs12.Decode(certData, password)
	if err == nil {
		return &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{certificate.Raw},
				PrivateKey:  privateKey,
			}},
			MinVersion: tls.VersionTLS12,
		}, nil
	}

	blocks, pemErr := pkcs12.ToPEM(certData, password)
	if pemErr != nil {
		return nil, fmt.Errorf("decode PKCS12 certificate: %w", err)
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if strings.Contains(b.Type, "PRIVATE KEY") {
			keyPEM = append(keyPEM, encoded...)
		} else {
			certPEM = append(certPEM, encoded...)
		}
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("build key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
