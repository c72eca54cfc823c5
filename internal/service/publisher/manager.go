package publisher

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
)

// Manager is the registry of platform publishers.
type Manager struct {
	publishers map[models.Platform]Publisher
	logger     *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[models.Platform]Publisher),
		logger:     logger,
	}
}

func (m *Manager) Register(p Publisher) error {
	name := p.PlatformName()
	if _, exists := m.publishers[name]; exists {
		return fmt.Errorf("publisher for platform %s already registered", name)
	}

	m.publishers[name] = p
	m.logger.Info("Publisher registered", zap.String("platform", string(name)))
	return nil
}

func (m *Manager) Get(platform models.Platform) (Publisher, error) {
	p, exists := m.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platform)
	}
	return p, nil
}

// GetPoller returns the platform's status poller, or nil when the platform's
// protocol has no asynchronous processing phase.
func (m *Manager) GetPoller(platform models.Platform) StatusPoller {
	p, exists := m.publishers[platform]
	if !exists {
		return nil
	}
	poller, ok := p.(StatusPoller)
	if !ok {
		return nil
	}
	return poller
}

func (m *Manager) Available() []models.Platform {
	var platforms []models.Platform
	for name := range m.publishers {
		platforms = append(platforms, name)
	}
	return platforms
}
