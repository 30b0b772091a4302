package main

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"i4.energy/across/modemcore/obex"
)

// CardStore holds the vCard served to OBEX business card pulls. It is
// updated over HTTP and read by the OBEX sessions.
type CardStore struct {
	mu   sync.RWMutex
	card []byte
}

// LoadCardStore reads the initial card from path. An empty path gives an
// empty store.
func LoadCardStore(path string) (*CardStore, error) {
	s := &CardStore{}
	if path == "" {
		return s, nil
	}
	card, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read business card: %w", err)
	}
	s.card = card
	return s, nil
}

func (s *CardStore) Set(card []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.card = bytes.Clone(card)
}

func (s *CardStore) Get() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.card
}

// Provide is an obex.BusinessCardProvider.
func (s *CardStore) Provide(*obex.Session) []byte {
	return s.Get()
}
