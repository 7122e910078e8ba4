package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

// inDocker reports whether the process runs in a container. It is a
// variable so tests can pin the answer.
var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether /.dockerenv exists. The answer is cached.
func IsRunningInDocker() bool {
	return inDocker()
}

// ResolveHostForDocker rewrites loopback hosts to the Docker host gateway
// when running in a container, so a locally started Postgres, Redis or
// Elasticsearch stays reachable. Other hosts pass through.
func ResolveHostForDocker(host string) string {
	if !inDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostGateway
	}
	return host
}

// ResolveURLForDocker does the same for the host part of a URL and keeps
// the port. Unparseable or host-less input is returned as is.
func ResolveURLForDocker(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := ResolveHostForDocker(u.Hostname())
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String()
}
