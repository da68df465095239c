/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
	"net"
	"time"
)

// GetLocalFreeTCPPort returns a TCP port on 127.0.0.1 that nobody listens at the moment of the call.
// It panics if the port cannot be allocated.
func GetLocalFreeTCPPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

// GetLocalAddrWithFreeTCPPort returns "127.0.0.1:<free-tcp-port>" address.
func GetLocalAddrWithFreeTCPPort() string {
	return fmt.Sprintf("127.0.0.1:%d", GetLocalFreeTCPPort())
}

// WaitListeningServer polls the address until a TCP connection can be established or the timeout is exceeded.
func WaitListeningServer(addr string, timeout time.Duration) error {
	const pollInterval = time.Millisecond * 10
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("waiting for server listening on %s timed out: %w", addr, err)
		}
		time.Sleep(pollInterval)
	}
}
