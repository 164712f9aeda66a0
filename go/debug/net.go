package debug

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Listen opens the debug server socket on localhost. Port 0 picks a free port.
func Listen(port int) (net.Listener, error) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "debug listen on %s failed", addr)
	}
	return ln, nil
}
