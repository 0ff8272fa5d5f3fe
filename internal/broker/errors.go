package broker

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/segmentio/kafka-go"
)

// ErrUnavailable is returned when the broker cannot be reached.
var ErrUnavailable = errors.New("broker unavailable")

// IsConnectivityError reports whether err means the broker could not be
// reached or dropped the connection, as opposed to a failure of the work
// itself. Consumers retry connectivity errors; anything else is fatal.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) {
		return kafkaErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
