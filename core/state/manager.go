package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/storage"
)

// Manager exposes keyed ledger state backed by a storage.Database. Writes are
// buffered in a journaled write-set so a failing unit of work can be rolled
// back completely; Commit flushes the write-set to the database.
//
// Manager is not safe for concurrent use. The ledger serialises callers.
type Manager struct {
	db      storage.Database
	dirty   map[string]dirtyEntry
	journal []journalEntry
	events  []types.Event
}

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyEntry
	hadPrev bool
}

// Snapshot identifies a point in the journal that can be reverted to.
type Snapshot struct {
	journal int
	events  int
}

var (
	rolePrefix = []byte("role:")

	// ErrUnauthorized is returned by RequireRole when the caller lacks the role.
	ErrUnauthorized = errors.New("state: caller lacks required role")
)

// RoleAdmin is granted to protocol administrators.
const RoleAdmin = "admin"

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Manager{
		db:    db,
		dirty: make(map[string]dirtyEntry),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) write(hashed []byte, value []byte, deleted bool) {
	key := string(hashed)
	prev, had := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: had})
	m.dirty[key] = dirtyEntry{value: append([]byte(nil), value...), deleted: deleted}
}

// Snapshot records the current journal position.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{journal: len(m.journal), events: len(m.events)}
}

// RevertToSnapshot undoes every write and event recorded after the snapshot.
func (m *Manager) RevertToSnapshot(s Snapshot) {
	for i := len(m.journal) - 1; i >= s.journal; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:s.journal]
	if s.events < len(m.events) {
		m.events = m.events[:s.events]
	}
}

// Atomic runs fn as one unit of work. Any error (or panic) reverts all state
// and events written by fn, including those of nested Atomic calls.
func (m *Manager) Atomic(fn func() error) (err error) {
	snap := m.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.RevertToSnapshot(snap)
			panic(r)
		}
		if err != nil {
			m.RevertToSnapshot(snap)
		}
	}()
	return fn()
}

// Commit flushes the write-set to the backing database in one batch. Events
// remain buffered until drained. A failed write leaves the write-set pending.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := m.db.NewBatch()
	for key, entry := range m.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), entry.value)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops all uncommitted writes and events.
func (m *Manager) Discard() {
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
	m.events = m.events[:0]
}

// Pending reports the number of uncommitted keys.
func (m *Manager) Pending() int { return len(m.dirty) }

// Emit records an event. Events are journaled together with state writes so a
// reverted unit of work never leaks them.
func (m *Manager) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	src, ok := evt.(interface{ Event() *types.Event })
	if !ok || src.Event() == nil {
		m.events = append(m.events, types.Event{Type: evt.EventType()})
		return
	}
	raw := src.Event()
	attrs := make(map[string]string, len(raw.Attributes))
	for k, v := range raw.Attributes {
		attrs[k] = v
	}
	m.events = append(m.events, types.Event{Type: raw.Type, Attributes: attrs})
}

// Events returns a copy of the buffered events.
func (m *Manager) Events() []types.Event {
	out := make([]types.Event, len(m.events))
	copy(out, m.events)
	return out
}

// DrainEvents returns the buffered events and clears the buffer.
func (m *Manager) DrainEvents() []types.Event {
	out := m.Events()
	m.events = m.events[:0]
	return out
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil, true)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, encoded, false)
	return nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return buf
}

// SetRole grants or revokes role membership for addr.
func (m *Manager) SetRole(role string, addr [20]byte, member bool) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	var members [][20]byte
	if err := m.KVGetList(roleKey(role), &members); err != nil {
		return err
	}
	filtered := members[:0]
	for _, existing := range members {
		if existing != addr {
			filtered = append(filtered, existing)
		}
	}
	if member {
		filtered = append(filtered, addr)
	}
	return m.KVPut(roleKey(role), filtered)
}

// HasRole reports whether addr holds role.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	var members [][20]byte
	if err := m.KVGetList(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// RequireRole returns ErrUnauthorized unless addr holds role.
func (m *Manager) RequireRole(role string, addr [20]byte) error {
	if !m.HasRole(role, addr) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, role)
	}
	return nil
}
