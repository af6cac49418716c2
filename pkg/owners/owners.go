// Package owners translates the user and group ids of restored entries.
package owners

import (
	"bufio"
	"bytes"
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// Config is the owners mapping handed to a write location. Map payloads
// hold one "old:new" pair per line; either side may be a name or a numeric
// id and '#' starts a comment.
type Config struct {
	UsersMap  []byte `json:"users_map,omitempty"`
	GroupsMap []byte `json:"groups_map,omitempty"`
}

// Mapper applies a parsed Config.
type Mapper struct {
	users  map[int]int
	groups map[int]int
}

type lookupFunc func(name string) (int, error)

func lookupUser(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGroup(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// NewMapper parses cfg, resolving names on this host.
func NewMapper(cfg Config) (*Mapper, error) {
	return newMapper(cfg, lookupUser, lookupGroup)
}

func newMapper(cfg Config, users, groups lookupFunc) (*Mapper, error) {
	m := &Mapper{}
	var err error
	if m.users, err = parseMap(cfg.UsersMap, users); err != nil {
		return nil, fmt.Errorf("users map: %w", err)
	}
	if m.groups, err = parseMap(cfg.GroupsMap, groups); err != nil {
		return nil, fmt.Errorf("groups map: %w", err)
	}
	return m, nil
}

func parseMap(data []byte, lookup lookupFunc) (map[int]int, error) {
	out := make(map[int]int)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		from, to, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected old:new, got %q", lineNo, line)
		}
		oldID, err := resolve(strings.TrimSpace(from), lookup)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		newID, err := resolve(strings.TrimSpace(to), lookup)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out[oldID] = newID
	}
	return out, scanner.Err()
}

func resolve(s string, lookup lookupFunc) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		if id < 0 {
			return 0, fmt.Errorf("negative id %d", id)
		}
		return id, nil
	}
	id, err := lookup(s)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", s, err)
	}
	return id, nil
}

// UID maps a user id. Unmapped ids and negative (unknown) ids pass through.
func (m *Mapper) UID(uid int) int {
	if m == nil {
		return uid
	}
	return m.apply(m.users, uid)
}

// GID maps a group id.
func (m *Mapper) GID(gid int) int {
	if m == nil {
		return gid
	}
	return m.apply(m.groups, gid)
}

func (m *Mapper) apply(table map[int]int, id int) int {
	if id < 0 {
		return id
	}
	if mapped, ok := table[id]; ok {
		return mapped
	}
	return id
}

// Empty reports whether the mapper changes nothing.
func (m *Mapper) Empty() bool {
	return m == nil || len(m.users) == 0 && len(m.groups) == 0
}
