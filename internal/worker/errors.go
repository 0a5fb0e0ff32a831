package worker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/bc-dunia/inferbench/internal/types"
)

// classifyError maps a stdlib transport error into one of spec.md §7's
// error kinds. Adapted from the teacher's
// internal/transport/error_mapping.go MapError/mapDNSError/mapNetOpError
// chain, relabeled onto this domain's smaller kind set (no DNS/TLS-specific
// kinds in spec.md — they fold into TransportError).
func classifyError(err error) *types.ErrorDetails {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return &types.ErrorDetails{Kind: types.ErrorKindRequestCancelled, Code: 499, Message: "request cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.ErrorDetails{Kind: types.ErrorKindRequestTimeout, Message: "request timeout exceeded"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		msg := fmt.Sprintf("DNS lookup failed for %s", dnsErr.Name)
		if dnsErr.IsTimeout {
			return &types.ErrorDetails{Kind: types.ErrorKindRequestTimeout, Message: msg}
		}
		return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: msg}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return &types.ErrorDetails{Kind: types.ErrorKindRequestTimeout, Message: fmt.Sprintf("%s %s timeout", opErr.Op, opErr.Net)}
		}
		return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: opErr.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &types.ErrorDetails{Kind: types.ErrorKindRequestTimeout, Message: fmt.Sprintf("request timeout: %s", urlErr.Op)}
		}
		return classifyError(urlErr.Err)
	}

	var tlsRecordErr *tls.RecordHeaderError
	if errors.As(err, &tlsRecordErr) {
		return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: "TLS record header error"}
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: "certificate signed by unknown authority"}
	}

	if strings.Contains(err.Error(), "tls:") {
		return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: err.Error()}
	}

	return &types.ErrorDetails{Kind: types.ErrorKindTransport, Message: err.Error()}
}

// classifyHTTPStatus maps a non-2xx HTTP status into an HTTPError (spec.md §4.4).
func classifyHTTPStatus(status int) *types.ErrorDetails {
	return &types.ErrorDetails{Kind: types.ErrorKindHTTP, Code: status, Message: fmt.Sprintf("http status %d", status)}
}

// classifyParseError wraps a response-body or SSE parse failure as a
// ResponseParseError (spec.md §4.4 "Mid-stream parse failures").
func classifyParseError(err error) *types.ErrorDetails {
	return &types.ErrorDetails{Kind: types.ErrorKindResponseParse, Message: err.Error()}
}

// cancellationError builds the fixed-shape error for a cooperative
// mid-flight cancellation (spec.md §4.4, §8 scenario 4: code=499).
func cancellationError() *types.ErrorDetails {
	return &types.ErrorDetails{Kind: types.ErrorKindRequestCancelled, Code: 499, Message: "request cancelled by scheduler"}
}
