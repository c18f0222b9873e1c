package darkresolver

import (
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestValidDarkDomains(t *testing.T) {
	valid := []string{"test.dark", "my-domain.dark", "node123.dark", "a2b.dark"}
	for _, d := range valid {
		require.True(t, IsValidDarkDomain(d), d)
	}
	invalid := []string{
		"invalid", ".dark", "test.darknet", "-test.dark", "test-.dark",
		"test--domain.dark", "ab.dark",
	}
	for _, d := range invalid {
		require.False(t, IsValidDarkDomain(d), d)
	}
}

func TestGenerateDarkAddressDeterministicAndCustomName(t *testing.T) {
	pub := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	addr1, err := GenerateDarkAddress(pub, "")
	require.NoError(t, err)
	require.NotEmpty(t, addr1.Address)
	require.Contains(t, addr1.Domain, ".dark")

	addr2, err := GenerateDarkAddress(pub, "mynode")
	require.NoError(t, err)
	require.Equal(t, "mynode.dark", addr2.Domain)

	addr3, err := GenerateDarkAddress(pub, "")
	require.NoError(t, err)
	require.Equal(t, addr1.Address, addr3.Address)
}

type mockDht struct {
	mu      sync.Mutex
	storage map[string][]byte
}

func newMockDht() *mockDht { return &mockDht{storage: make(map[string][]byte)} }

func (m *mockDht) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *mockDht) Get(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.storage[string(key)]
	return v, ok, nil
}

func (m *mockDht) Remove(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, string(key))
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	resolver := NewWithDHT(newMockDht())
	owner := ids.GenerateTestNodeID()

	addr, err := resolver.Register("testnode", []string{"1.2.3.4:8080", "5.6.7.8:9090"}, "Test Node", 3600, owner)
	require.NoError(t, err)
	require.Equal(t, "testnode.dark", addr.Domain)

	record, err := resolver.Lookup(addr.Domain)
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.3.4:8080", "5.6.7.8:9090"}, record.Addresses)
	require.Equal(t, "Test Node", record.Alias)
	require.Equal(t, owner, record.OwnerID)
	require.EqualValues(t, 3600, record.TTL)

	addrs, err := resolver.ResolveAddresses(addr.Domain)
	require.NoError(t, err)
	require.Equal(t, record.Addresses, addrs)

	_, err = resolver.Register("testnode", nil, "", 3600, ids.GenerateTestNodeID())
	require.ErrorIs(t, err, ErrDomainExists)
}

func TestAddressBook(t *testing.T) {
	resolver := New()
	darkAddr := Address{Address: "3HGvnkH2VwR3cD8r7shs7V", Domain: "mynode.dark"}

	resolver.AddToAddressBook("Alice's Node", darkAddr, "Primary node")

	entry, err := resolver.LookupAddressBook("Alice's Node")
	require.NoError(t, err)
	require.Equal(t, darkAddr, entry.DarkAddress)
	require.Equal(t, "Primary node", entry.Notes)

	entries := resolver.ListAddressBook()
	require.Len(t, entries, 1)
}

func TestDomainExpiration(t *testing.T) {
	resolver := New()
	owner := ids.GenerateTestNodeID()

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return past }
	addr, err := resolver.Register("expiring", nil, "", 60, owner)
	require.NoError(t, err)

	resolver.now = func() time.Time { return past.Add(2 * time.Hour) }
	_, err = resolver.Lookup(addr.Domain)
	require.ErrorIs(t, err, ErrDomainExpired)

	removed := resolver.CleanupExpired()
	require.Equal(t, 1, removed)

	_, err = resolver.Lookup(addr.Domain)
	require.ErrorIs(t, err, ErrDomainNotFound)
}
