package repository

import (
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// Store combines the SQLite repositories behind port.Store
type Store struct {
	*sqlite.DB
	*ProjectRepository
	*ExpenseRepository
	*PayApplicationRepository
	*HistoryRepository
}

// NewStore wires every repository to the same database handle
func NewStore(db *sqlite.DB, logger *zap.Logger) *Store {
	return &Store{
		DB:                       db,
		ProjectRepository:        NewProjectRepository(db, logger),
		ExpenseRepository:        NewExpenseRepository(db, logger),
		PayApplicationRepository: NewPayApplicationRepository(db, logger),
		HistoryRepository:        NewHistoryRepository(db, logger),
	}
}

var _ port.Store = (*Store)(nil)
