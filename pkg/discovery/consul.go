package discovery

import (
	"fmt"
	"log"
	"strconv"

	"github.com/hashicorp/consul/api"

	"adaptive-quiz-service/internal/config"
)

// ServiceRegistry handles service registration and discovery with Consul.
type ServiceRegistry struct {
	client *api.Client
	cfg    config.ServerConfig
}

func NewServiceRegistry(cfg *config.Config) (*ServiceRegistry, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = cfg.Consul.ConsulAddress

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}
	return &ServiceRegistry{client: client, cfg: cfg.Server}, nil
}

// Register announces the service with an HTTP health check.
func (sr *ServiceRegistry) Register() error {
	port, err := strconv.Atoi(sr.cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", sr.cfg.Port, err)
	}
	registration := &api.AgentServiceRegistration{
		ID:      sr.cfg.ServiceID,
		Name:    sr.cfg.ServiceName,
		Port:    port,
		Address: sr.cfg.ServiceAddress,
		Tags:    []string{"quiz", "adaptive", "http"},
		Meta: map[string]string{
			"protocol": "http",
		},
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%s/health", sr.cfg.ServiceAddress, sr.cfg.Port),
			Interval: "10s",
			Timeout:  "5s",
		},
	}
	if err := sr.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	log.Printf("Service %s registered with Consul", sr.cfg.ServiceName)
	return nil
}

func (sr *ServiceRegistry) Deregister() error {
	if err := sr.client.Agent().ServiceDeregister(sr.cfg.ServiceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	log.Printf("Service %s deregistered from Consul", sr.cfg.ServiceName)
	return nil
}

// FindService resolves healthy instances of a peer service.
func (sr *ServiceRegistry) FindService(serviceName string) ([]*api.ServiceEntry, error) {
	services, _, err := sr.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find service %s: %w", serviceName, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no healthy instances of service %s found", serviceName)
	}
	return services, nil
}
