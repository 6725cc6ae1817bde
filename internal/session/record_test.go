package session_test

import (
	"testing"

	"github.com/nwang783/just-in-case/internal/session"
	"github.com/nwang783/just-in-case/internal/session/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) session.Store { return &session.MemoryStore{} })
}
