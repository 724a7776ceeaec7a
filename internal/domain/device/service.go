// Package device manages the hub's persistent identity. Clients use the
// identity to tell multiple hubs on the same network apart.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Info contains the device identity information.
type Info struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	ServiceName string `json:"serviceName"`
}

// Service manages device identity, generating and persisting a UUID on
// first boot and reusing it afterwards.
type Service struct {
	mu         sync.RWMutex
	configPath string
	info       Info
}

// persistedConfig is the format stored on disk.
type persistedConfig struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// NewService loads existing identity from configPath or generates a new
// one if none exists.
func NewService(configPath string) (*Service, error) {
	svc := &Service{
		configPath: configPath,
		info: Info{
			ServiceName: "Milo",
		},
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := svc.loadConfig(); err != nil {
		log.Debug().Err(err).Msg("No existing device config, generating new identity")
		svc.info.UUID = uuid.New().String()
		svc.info.Name = getDefaultDeviceName()

		if err := svc.saveConfig(); err != nil {
			return nil, fmt.Errorf("failed to save device config: %w", err)
		}
	}

	log.Info().
		Str("uuid", svc.info.UUID).
		Str("name", svc.info.Name).
		Msg("Device identity initialized")

	return svc, nil
}

// loadConfig loads device configuration from disk.
func (s *Service) loadConfig() error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return err
	}

	var cfg persistedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("invalid config format: %w", err)
	}

	if cfg.UUID == "" {
		return fmt.Errorf("config missing UUID")
	}

	s.info.UUID = cfg.UUID
	s.info.Name = cfg.Name

	if s.info.Name == "" {
		s.info.Name = getDefaultDeviceName()
	}

	return nil
}

// saveConfig persists device configuration to disk.
func (s *Service) saveConfig() error {
	cfg := persistedConfig{
		UUID: s.info.UUID,
		Name: s.info.Name,
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configPath, data, 0644)
}

// GetInfo returns the current device information.
func (s *Service) GetInfo() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetName updates the device name and persists it.
func (s *Service) SetName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Name = name
	return s.saveConfig()
}

// GetUUID returns just the device UUID.
func (s *Service) GetUUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.UUID
}

// getDefaultDeviceName returns a default device name.
func getDefaultDeviceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "Milo"
	}
	return hostname
}
