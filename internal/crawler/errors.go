package crawler

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ClassifyError maps a transport error onto the ErrorKind taxonomy. The kind
// decides the retry strategy: transient kinds retry locally, reset-class
// errors are candidates for a headless fallback on allow-listed hosts.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrKindDNS
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrKindTLS
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return ErrKindTLS
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrKindReset
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	// Some transports surface resets and handshake failures only as text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return ErrKindReset
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") || strings.Contains(msg, "handshake"):
		return ErrKindTLS
	case strings.Contains(msg, "no such host"):
		return ErrKindDNS
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrKindTimeout
	default:
		return ErrKindHTTP
	}
}

// ClassifyStatus maps an HTTP status code onto an ErrorKind. 2xx and 3xx are
// not failures at the transport level.
func ClassifyStatus(code int) ErrorKind {
	if code >= 400 {
		return ErrKindHTTP
	}
	return ErrKindNone
}
