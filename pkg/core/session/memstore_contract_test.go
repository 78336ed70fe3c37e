package session_test

import (
	"testing"

	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/session/storetest"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return session.NewMemoryStore()
	})
}
