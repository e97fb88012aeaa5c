// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediate

import (
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"

	pdxerrors "github.com/antimetal/pcidiag/pkg/errors"
)

func marshalJSON(v any) ([]byte, error)       { return json.Marshal(v) }
func unmarshalJSON(b []byte, out any) error   { return json.Unmarshal(b, out) }

type keyPart = []byte

var (
	planKey    keyPart = []byte("plan")
	receiptKey keyPart = []byte("receipt")
)

func buildKey(parts ...keyPart) []byte {
	var b []byte
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		b = append(b, '/')
		b = append(b, p...)
	}
	return b
}

// Store persists plans and receipts as JSON values in an embedded Badger
// database. Unlike the resource inventory store this replaces, values are
// plain JSON rather than a protobuf Any: plans and receipts have no
// schema registry to resolve against, so the indirection buys nothing.
type Store struct {
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	db     *badger.DB
	logger logr.Logger
}

// NewStore opens an in-memory Badger database. dir, when non-empty, opens
// a disk-backed database there instead, so receipts survive a restart of
// the process that applied them.
func NewStore(logger logr.Logger, dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open remediation store: %w: %w", pdxerrors.ErrEnvironment, err)
	}
	return &Store{db: db, logger: logger.WithName("remediate-store")}, nil
}

// SavePlan persists plan under its ID. Re-saving a plan with the same ID
// overwrites it; plans are not receipts and have no immutability
// guarantee.
func (s *Store) SavePlan(plan RemediationPlan) error {
	return s.put(buildKey(planKey, []byte(plan.ID)), plan)
}

// GetPlan retrieves a previously saved plan by ID.
func (s *Store) GetPlan(id string) (RemediationPlan, error) {
	var plan RemediationPlan
	err := s.get(buildKey(planKey, []byte(id)), &plan)
	return plan, err
}

// SaveReceipt persists receipt under its plan's ID. Overwriting an
// existing receipt is refused: a receipt records what actually happened
// and is not meant to be silently replaced.
func (s *Store) SaveReceipt(receipt RemediationReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	s.wg.Add(1)
	defer s.wg.Done()

	key := buildKey(receiptKey, []byte(receipt.Plan.ID))
	data, err := marshalJSON(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w: %w", pdxerrors.ErrSerialization, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("receipt for plan %s already exists, refusing to overwrite: %w",
				receipt.Plan.ID, pdxerrors.ErrSerialization)
		}
		if !stdliberrors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check existing receipt: %w", err)
		}
		return txn.Set(key, data)
	})
}

// GetReceipt retrieves a previously saved receipt by plan ID.
func (s *Store) GetReceipt(planID string) (RemediationReceipt, error) {
	var receipt RemediationReceipt
	err := s.get(buildKey(receiptKey, []byte(planID)), &receipt)
	return receipt, err
}

func (s *Store) put(key []byte, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	s.wg.Add(1)
	defer s.wg.Done()

	data, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w: %w", pdxerrors.ErrSerialization, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) get(key []byte, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	s.wg.Add(1)
	defer s.wg.Done()

	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshalJSON(val, out)
		})
	})
}

// Close is idempotent; calling it more than once only closes the
// underlying database on the first call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.wg.Wait()
	err := s.db.Close()
	s.closed = true
	return err
}
