package loyalty

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/jackc/pgx/v5"
)

const (
	minPromoCode = 1000
	maxPromoCode = 9999
)

// Rotation is a consumed code and the code that replaced it
type Rotation struct {
	StoreID  int64
	Previous int
	Current  int
}

// CodeStore issues and rotates the per-store promotional code
type CodeStore interface {
	// CurrentCode returns the active code, issuing one if the store has none yet
	CurrentCode(ctx context.Context, storeID int64) (int, error)
	// TryConsume atomically compares submitted with the active code and, on a match,
	// replaces it with a fresh one. Exactly one of several concurrent callers
	// submitting the same matching code gets a Rotation; the rest get nil.
	TryConsume(ctx context.Context, storeID int64, submitted int) (*Rotation, error)
	// Revert puts r.Previous back while the active code is still r.Current. It undoes
	// a consumption whose credit never committed.
	Revert(ctx context.Context, r Rotation) error
}

// TxCodeStore rotates codes inside the accrual transaction, so a rolled back
// credit also rolls back the rotation.
type TxCodeStore interface {
	CodeStore
	TryConsumeTx(ctx context.Context, tx pgx.Tx, storeID int64, submitted int) (*Rotation, error)
}

// CodeGenerator returns a candidate code in [1000, 9999]
type CodeGenerator func() int

// RandomCode is the default generator
func RandomCode() int {
	return minPromoCode + rand.IntN(maxPromoCode-minPromoCode+1)
}

// nextCode draws until the candidate differs from previous
func nextCode(gen CodeGenerator, previous int) int {
	for {
		code := gen()
		if code != previous {
			return code
		}
	}
}

func validPromoCode(code int) bool {
	return code >= minPromoCode && code <= maxPromoCode
}

// MemoryCodeStore keeps codes in process memory. Codes are lost on restart and
// not shared between replicas, so it only suits single-instance deployments and tests.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[int64]int
	gen   CodeGenerator
}

// NewMemoryCodeStore creates an in-memory code store
func NewMemoryCodeStore(gen CodeGenerator) *MemoryCodeStore {
	if gen == nil {
		gen = RandomCode
	}
	return &MemoryCodeStore{codes: make(map[int64]int), gen: gen}
}

// CurrentCode returns the active code for storeID
func (m *MemoryCodeStore) CurrentCode(ctx context.Context, storeID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.codes[storeID]
	if !ok {
		code = m.gen()
		m.codes[storeID] = code
	}
	return code, nil
}

// TryConsume compares and rotates under the store mutex
func (m *MemoryCodeStore) TryConsume(ctx context.Context, storeID int64, submitted int) (*Rotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.codes[storeID]
	if !ok || code != submitted {
		return nil, nil
	}
	next := nextCode(m.gen, code)
	m.codes[storeID] = next
	return &Rotation{StoreID: storeID, Previous: code, Current: next}, nil
}

// Revert restores r.Previous unless the code moved on again
func (m *MemoryCodeStore) Revert(ctx context.Context, r Rotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.codes[r.StoreID] == r.Current {
		m.codes[r.StoreID] = r.Previous
	}
	return nil
}

// NewCodeStore picks the backend named by LOYALTY_CODE_BACKEND
func NewCodeStore(backend string, pg *PostgresCodeStore, rds *RedisCodeStore) (CodeStore, error) {
	switch backend {
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres code store not configured")
		}
		return pg, nil
	case "redis":
		if rds == nil {
			return nil, fmt.Errorf("redis code store not configured")
		}
		return rds, nil
	case "memory":
		return NewMemoryCodeStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown code backend %q", backend)
	}
}
