package config

import (
	"net"
	"os"
	"strings"
	"sync"
)

const (
	// DefaultDockerHost is how a container reaches a database published on
	// its host machine.
	DefaultDockerHost = "host.docker.internal"

	// DockerHostOff disables loopback rewriting.
	DockerHostOff = "off"
)

// Marker files created by Docker and Podman inside a container.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

var (
	inContainerOnce   sync.Once
	inContainerResult bool
)

// IsRunningInContainer reports whether the process runs inside a Docker or
// Podman container. The result is cached after the first call.
func IsRunningInContainer() bool {
	inContainerOnce.Do(func() {
		for _, marker := range containerMarkers {
			if _, err := os.Stat(marker); err == nil {
				inContainerResult = true
				return
			}
		}
	})
	return inContainerResult
}

// HostResolver maps a configured database host to the address to dial.
// SQLite opens a local file and never goes through it.
type HostResolver struct {
	// ContainerHost replaces loopback hosts inside a container. Empty or
	// DockerHostOff leaves every host unchanged.
	ContainerHost string

	// InContainer reports whether rewriting applies. Nil means never.
	InContainer func() bool
}

// NewHostResolver returns a resolver that rewrites loopback hosts to
// containerHost when running in a container.
func NewHostResolver(containerHost string) HostResolver {
	return HostResolver{ContainerHost: containerHost, InContainer: IsRunningInContainer}
}

// Resolve returns ContainerHost for localhost, 127.0.0.0/8 and ::1 when
// running in a container, and host otherwise.
func (r HostResolver) Resolve(host string) string {
	if r.ContainerHost == "" || r.ContainerHost == DockerHostOff || !isLoopbackHost(host) {
		return host
	}
	if r.InContainer == nil || !r.InContainer() {
		return host
	}
	return r.ContainerHost
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
