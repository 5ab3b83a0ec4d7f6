package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// CredentialStore is the narrow store capability the subaccount manager
// needs: the set of active, non-expired signing credentials.
type CredentialStore interface {
	ActiveCredentials(ctx context.Context) ([]types.Credential, error)
}

// SubaccountManager round-robins live strategies across the pool of active
// subaccounts, keeping a single mutator per subaccount at a time so two
// strategies never place conflicting orders from the same wallet.
type SubaccountManager struct {
	mu    sync.Mutex
	creds []types.Credential
	next  int
	// leased tracks which subaccount ID is currently assigned as a mutator,
	// and to whom (an opaque caller-supplied owner key, usually a strategy ID).
	leased map[string]string
}

// NewSubaccountManager loads the active credential set at construction
// time. Call Refresh to pick up newly issued or expired credentials.
func NewSubaccountManager(ctx context.Context, store CredentialStore) (*SubaccountManager, error) {
	m := &SubaccountManager{leased: make(map[string]string)}
	if err := m.Refresh(ctx, store); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh reloads the active credential set, dropping any that expired or
// were revoked.
func (m *SubaccountManager) Refresh(ctx context.Context, store CredentialStore) error {
	creds, err := store.ActiveCredentials(ctx)
	if err != nil {
		return fmt.Errorf("venue: refresh subaccount credentials: %w", err)
	}
	now := time.Now()
	active := creds[:0]
	for _, c := range creds {
		if !c.IsActive {
			continue
		}
		if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			continue
		}
		active = append(active, c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = active
	if m.next >= len(m.creds) {
		m.next = 0
	}
	return nil
}

// Acquire assigns the next subaccount in round-robin order to owner,
// skipping any subaccount that already has a different mutator assigned.
// Returns an error if every active subaccount is currently leased.
func (m *SubaccountManager) Acquire(owner string) (types.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.creds) == 0 {
		return types.Credential{}, fmt.Errorf("venue: no active subaccounts available")
	}

	for i := 0; i < len(m.creds); i++ {
		idx := (m.next + i) % len(m.creds)
		cred := m.creds[idx]
		if existing, ok := m.leased[cred.SubaccountID]; !ok || existing == owner {
			m.leased[cred.SubaccountID] = owner
			m.next = (idx + 1) % len(m.creds)
			return cred, nil
		}
	}
	return types.Credential{}, fmt.Errorf("venue: all %d subaccounts are currently leased", len(m.creds))
}

// Release frees owner's lease on subaccountID, if any, making it available
// to the next Acquire call.
func (m *SubaccountManager) Release(subaccountID, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leased[subaccountID] == owner {
		delete(m.leased, subaccountID)
	}
}
