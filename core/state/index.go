package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// The query index stores ordered escrow id lists keyed by party role plus a
// single list of open escrows. Lists hold back-references only; the escrow
// records themselves live under their own keys. Index writes happen inside
// the same transition critical section as the record write, so lookups always
// reflect the last committed transition.

var (
	indexClientPrefix     = []byte("escrow-index:client:")
	indexFreelancerPrefix = []byte("escrow-index:freelancer:")
	indexOpenKey          = ethcrypto.Keccak256([]byte("escrow-index:open"))
)

func indexClientKey(addr [20]byte) []byte {
	buf := make([]byte, len(indexClientPrefix)+len(addr))
	copy(buf, indexClientPrefix)
	copy(buf[len(indexClientPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func indexFreelancerKey(addr [20]byte) []byte {
	buf := make([]byte, len(indexFreelancerPrefix)+len(addr))
	copy(buf, indexFreelancerPrefix)
	copy(buf[len(indexFreelancerPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadIDList(key []byte) ([]uint64, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []uint64{}, nil
	}
	var list []uint64
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) writeIDList(key []byte, list []uint64) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) indexAppend(key []byte, id uint64) error {
	list, err := m.loadIDList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == id {
			return nil
		}
	}
	return m.writeIDList(key, append(list, id))
}

func (m *Manager) indexRemove(key []byte, id uint64) error {
	list, err := m.loadIDList(key)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == len(list) {
		return nil
	}
	return m.writeIDList(key, filtered)
}

// IndexClientAdd records the escrow under the funding client's list.
func (m *Manager) IndexClientAdd(addr [20]byte, id uint64) error {
	return m.indexAppend(indexClientKey(addr), id)
}

// IndexFreelancerAdd records the escrow under the accepting freelancer's list.
func (m *Manager) IndexFreelancerAdd(addr [20]byte, id uint64) error {
	return m.indexAppend(indexFreelancerKey(addr), id)
}

// IndexOpenAdd records the escrow in the open list.
func (m *Manager) IndexOpenAdd(id uint64) error {
	return m.indexAppend(indexOpenKey, id)
}

// IndexOpenRemove drops the escrow from the open list. Removing an absent id
// is a no-op.
func (m *Manager) IndexOpenRemove(id uint64) error {
	return m.indexRemove(indexOpenKey, id)
}

// IndexClientList returns the ids of escrows funded by the address, in
// creation order.
func (m *Manager) IndexClientList(addr [20]byte) ([]uint64, error) {
	return m.loadIDList(indexClientKey(addr))
}

// IndexFreelancerList returns the ids of escrows accepted by the address, in
// acceptance order.
func (m *Manager) IndexFreelancerList(addr [20]byte) ([]uint64, error) {
	return m.loadIDList(indexFreelancerKey(addr))
}

// IndexOpenList returns the ids of escrows currently open for acceptance.
func (m *Manager) IndexOpenList() ([]uint64, error) {
	return m.loadIDList(indexOpenKey)
}
