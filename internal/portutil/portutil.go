// Package portutil allocates ephemeral TCP ports for subprocess shims that
// need to be told which port to listen on before they start.
package portutil

import (
	"fmt"
	"net"
)

// AllocatePort asks the OS for a free port by binding then immediately
// releasing a listener. Thread-safe and avoids port conflicts between
// concurrently starting Host shims.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("portutil: allocate port: %w", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}
