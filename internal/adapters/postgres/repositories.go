package postgres

import (
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Trials      ports.TrialRepository
	Sessions    ports.SessionRepository
	Devices     ports.DeviceRegistry
	SyncEvents  ports.SyncEventRepository
	SyncConfigs ports.SyncConfigRepository
	Events      ports.SecurityEventRepository
	Alerts      ports.SecurityAlertRepository
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Trials:      &trialRepository{db: db},
		Sessions:    &sessionRepository{db: db},
		Devices:     &deviceRegistry{db: db},
		SyncEvents:  &syncEventRepository{db: db},
		SyncConfigs: &syncConfigRepository{db: db},
		Events:      &securityEventRepository{db: db},
		Alerts:      &securityAlertRepository{db: db},
		Outbox:      &outboxRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
	}
}
