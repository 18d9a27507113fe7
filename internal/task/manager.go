package task

import (
	"github.com/rs/zerolog"
)

// Manager starts and stops every scheduled task together.
type Manager struct {
	tasks   []Task
	started []Task
	logger  zerolog.Logger
}

func NewManager(logger zerolog.Logger, tasks ...Task) *Manager {
	return &Manager{
		tasks:  tasks,
		logger: logger.With().Str("component", "task-manager").Logger(),
	}
}

// Start starts all tasks. If one fails to start, the ones already running
// are stopped again.
func (m *Manager) Start() error {
	for _, t := range m.tasks {
		if err := t.Start(); err != nil {
			m.Stop()
			return err
		}
		m.started = append(m.started, t)
	}
	m.logger.Info().Int("tasks", len(m.started)).Msg("scheduled tasks started")
	return nil
}

func (m *Manager) Stop() {
	for i := len(m.started) - 1; i >= 0; i-- {
		m.started[i].Stop()
	}
	m.started = nil
	m.logger.Info().Msg("scheduled tasks stopped")
}
