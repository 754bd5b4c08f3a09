package consul

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// RegisterService announces the HTTP listener under name with a /ping health check and
// returns the service id to deregister on shutdown.
func RegisterService(client *consulapi.Client, name, host, httpAddr string) (string, error) {
	_, portStr, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "", fmt.Errorf("invalid http address %q: %w", httpAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid http port %q: %w", portStr, err)
	}

	id := fmt.Sprintf("%s-%s-%d", name, host, port)
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Address: host,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return "", fmt.Errorf("failed to register %s with consul: %w", name, err)
	}
	return id, nil
}

func Deregister(client *consulapi.Client, id string) error {
	return client.Agent().ServiceDeregister(id)
}
