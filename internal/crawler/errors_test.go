package crawler

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrKindNone},
		{"deadline", context.DeadlineExceeded, ErrKindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, ErrKindDNS},
		{"reset", syscall.ECONNRESET, ErrKindReset},
		{"net timeout", timeoutErr{}, ErrKindTimeout},
		{"reset text", errors.New("read tcp: connection reset by peer"), ErrKindReset},
		{"tls text", errors.New("remote error: tls: handshake failure"), ErrKindTLS},
		{"unknown", errors.New("boom"), ErrKindHTTP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestClassifyErrorWrapped(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("fetch failed"), syscall.ECONNRESET)
	require.Equal(t, ErrKindReset, ClassifyError(wrapped))
}

func TestErrorKindTransient(t *testing.T) {
	t.Parallel()

	require.True(t, ErrKindTimeout.Transient())
	require.True(t, ErrKindDNS.Transient())
	require.True(t, ErrKindReset.Transient())
	require.False(t, ErrKindValidationHard.Transient())
	require.False(t, ErrKindHTTP.Transient())
}
