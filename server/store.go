// store.go - Tensor-Store des Servers
//
// Enthaelt:
// - Store: ID -> *core.Array, IDs sind UUIDs
// - Delete gibt das Handle genau einmal frei
package server

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ollama/mlxbridge/core"
)

// Store haelt alle Arrays die per HTTP erzeugt wurden. Der Store besitzt
// die Handles; Aufrufer leihen sie nur fuer die Dauer eines Requests.
type Store struct {
	mu      sync.Mutex
	tensors map[string]*core.Array
}

func NewStore() *Store {
	return &Store{tensors: make(map[string]*core.Array)}
}

// Put uebernimmt a und gibt die neue ID zurueck
func (s *Store) Put(a *core.Array) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tensors[id] = a
	return id
}

func (s *Store) Get(id string) (*core.Array, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.tensors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotFound, id)
	}
	return a, nil
}

// Delete entfernt id und schliesst das Array. Ein zweites Delete ist
// ErrTensorNotFound.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	a, ok := s.tensors[id]
	delete(s.tensors, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrTensorNotFound, id)
	}
	return a.Close()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tensors)
}

// IDs gibt die gespeicherten IDs sortiert zurueck
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.tensors))
}

// Close gibt alle Arrays frei
func (s *Store) Close() {
	s.mu.Lock()
	tensors := s.tensors
	s.tensors = make(map[string]*core.Array)
	s.mu.Unlock()

	for id, a := range tensors {
		if err := a.Close(); err != nil {
			slog.Warn("failed to release tensor", "id", id, "error", err)
		}
	}
	slog.Debug("tensor store closed", "released", len(tensors))
}
