package owners

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookup(names map[string]int) lookupFunc {
	return func(name string) (int, error) {
		id, ok := names[name]
		if !ok {
			return 0, fmt.Errorf("unknown name %s", name)
		}
		return id, nil
	}
}

func TestMapper(t *testing.T) {
	users := fakeLookup(map[string]int{"alice": 1001, "bob": 1002})
	groups := fakeLookup(map[string]int{"staff": 50})

	cfg := Config{
		UsersMap:  []byte("# restore onto a new host\n1000:alice\nbob : 0\n\n"),
		GroupsMap: []byte("20:staff # wheel\n"),
	}
	m, err := newMapper(cfg, users, groups)
	require.NoError(t, err)

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"numeric to name", m.UID(1000), 1001},
		{"name to numeric", m.UID(1002), 0},
		{"unmapped user", m.UID(42), 42},
		{"unknown user", m.UID(-1), -1},
		{"group", m.GID(20), 50},
		{"unmapped group", m.GID(21), 21},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}
	assert.False(t, m.Empty())
}

func TestMapperErrors(t *testing.T) {
	lookup := fakeLookup(nil)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing colon", Config{UsersMap: []byte("1000\n")}},
		{"unknown name", Config{UsersMap: []byte("nobody-here:0\n")}},
		{"negative id", Config{GroupsMap: []byte("-1:0\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newMapper(tt.cfg, lookup, lookup)
			assert.Error(t, err)
		})
	}
}

func TestNilMapper(t *testing.T) {
	var m *Mapper
	assert.Equal(t, 7, m.UID(7))
	assert.True(t, m.Empty())

	empty, err := NewMapper(Config{})
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
