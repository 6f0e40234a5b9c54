// Package rbac implements the grant-scope walk and ACL decision cache:
// users hold roles, roles hold grants scoped
// GLOBAL > DATABASE > SCHEMA > TABLE, and the authorization check walks
// from the most specific scope outward, allowing on the first match.
package rbac

import (
	"container/list"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// Action is one of the privilege verbs a grant names per object kind.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionAlter
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "READ"
	case ActionWrite:
		return "WRITE"
	case ActionAlter:
		return "ALTER"
	case ActionDrop:
		return "DROP"
	default:
		return "?"
	}
}

// Object is the kind of thing a grant or a check applies to: DB, SCHEMA,
// TABLE, GRAPH, FILE, VECTOR.
type Object string

const (
	ObjectDB     Object = "DB"
	ObjectSchema Object = "SCHEMA"
	ObjectTable  Object = "TABLE"
	ObjectGraph  Object = "GRAPH"
	ObjectFile   Object = "FILE"
	ObjectVector Object = "VECTOR"
)

// Privilege names one (Object, Action) pair, e.g. "TABLE WRITE".
type Privilege struct {
	Object Object
	Action Action
}

func (p Privilege) String() string { return fmt.Sprintf("%s %s", p.Object, p.Action) }

// ScopeKind is the grant scope level, most specific first.
type ScopeKind int

const (
	ScopeTable ScopeKind = iota
	ScopeSchema
	ScopeDatabase
	ScopeGlobal
)

// Grant is one privilege bound to a scope path. Path is empty for GLOBAL,
// "db" for DATABASE, "db.schema" for SCHEMA, "db.schema.table" for TABLE.
type Grant struct {
	Scope     ScopeKind
	Path      string
	Privilege Privilege
}

// Role holds a set of grants. The "admin" role name is implicit allow-all
// and never needs an explicit Grant list.
type Role struct {
	Name   string
	Grants []Grant
}

// User is a login identity with a password hash and the role names it
// holds.
type User struct {
	Name         string
	PasswordHash string // argon2id-encoded, see HashPassword
	Roles        []string
}

// AdminRole is the reserved role name with implicit allow-all.
const AdminRole = "admin"

// Registry is the process-wide user/role store plus the ACL decision
// cache, passed explicitly into the wire frontends instead of living in
// ambient globals.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User
	roles map[string]*Role

	cache *aclCache
}

// Denials cache briefly so newly granted access shows up fast; allows
// cache longer and rely on the epoch bump for revocation. The entry cap
// bounds the cache's memory.
const (
	allowTTL  = 60 * time.Second
	denyTTL   = 10 * time.Second
	cacheSize = 10_000
)

func NewRegistry() *Registry {
	r := &Registry{
		users: map[string]*User{},
		roles: map[string]*Role{AdminRole: {Name: AdminRole}},
		cache: newACLCache(cacheSize),
	}
	return r
}

func (r *Registry) PutUser(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.Name] = u
}

func (r *Registry) DeleteUser(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, name)
}

func (r *Registry) GetUser(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[name]
	return u, ok
}

// Users returns every registered user name, unsorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		out = append(out, name)
	}
	return out
}

func (r *Registry) PutRole(role *Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

func (r *Registry) GetRole(name string) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// scopePaths returns the scope paths to check, most specific first, for a
// fully qualified object path like "db.schema.table" (or a shorter prefix
// for DB/SCHEMA-level checks).
func scopePaths(path string) []struct {
	Kind ScopeKind
	Path string
} {
	parts := strings.Split(path, ".")
	var out []struct {
		Kind ScopeKind
		Path string
	}
	if len(parts) >= 3 {
		out = append(out, struct {
			Kind ScopeKind
			Path string
		}{ScopeTable, strings.Join(parts[:3], ".")})
	}
	if len(parts) >= 2 {
		out = append(out, struct {
			Kind ScopeKind
			Path string
		}{ScopeSchema, strings.Join(parts[:2], ".")})
	}
	if len(parts) >= 1 && parts[0] != "" {
		out = append(out, struct {
			Kind ScopeKind
			Path string
		}{ScopeDatabase, parts[0]})
	}
	out = append(out, struct {
		Kind ScopeKind
		Path string
	}{ScopeGlobal, ""})
	return out
}

// Check walks grant scopes from most specific to least specific for every
// role the user holds, returning allow on the first matching grant and
// deny otherwise. The admin role is an implicit allow-all. path is the
// fully qualified object path ("db", "db.schema", or "db.schema.table");
// epoch is the catalog epoch at call time, used as the cache key's
// freshness tag.
func (r *Registry) Check(user *User, priv Privilege, path string, epoch int64) bool {
	cacheKey := aclKey{user: user.Name, priv: priv, path: path}
	if decision, ok := r.cache.get(cacheKey, epoch); ok {
		return decision
	}
	decision := r.checkUncached(user, priv, path)
	r.cache.put(cacheKey, decision, epoch)
	return decision
}

func (r *Registry) checkUncached(user *User, priv Privilege, path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, roleName := range user.Roles {
		if roleName == AdminRole {
			return true
		}
		role, ok := r.roles[roleName]
		if !ok {
			continue
		}
		for _, scope := range scopePaths(path) {
			for _, g := range role.Grants {
				if g.Scope == scope.Kind && g.Path == scope.Path && g.Privilege == priv {
					return true
				}
			}
		}
	}
	return false
}

// ---- ACL LRU cache ----

type aclKey struct {
	user string
	priv Privilege
	path string
}

type aclEntry struct {
	key      aclKey
	decision bool
	epoch    int64
	expires  time.Time
}

// aclCache is a process-wide LRU (<=10k entries) keyed by
// (user, privilege, path); the key has no separate filestore component.
// It caches allow/deny decisions with
// separate TTLs, invalidated by comparing the stored epoch against the
// catalog's current epoch (bumped on any grant mutation).
type aclCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[aclKey]*list.Element
}

func newACLCache(capacity int) *aclCache {
	return &aclCache{cap: capacity, ll: list.New(), items: map[aclKey]*list.Element{}}
}

func (c *aclCache) get(key aclKey, epoch int64) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false, false
	}
	e := el.Value.(*aclEntry)
	if e.epoch != epoch || time.Now().After(e.expires) {
		c.ll.Remove(el)
		delete(c.items, key)
		return false, false
	}
	c.ll.MoveToFront(el)
	return e.decision, true
}

func (c *aclCache) put(key aclKey, decision bool, epoch int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl := denyTTL
	if decision {
		ttl = allowTTL
	}
	entry := &aclEntry{key: key, decision: decision, epoch: epoch, expires: time.Now().Add(ttl)}
	if el, ok := c.items[key]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*aclEntry).key)
		}
	}
}

// Invalidate drops every cached decision, used on top of epoch comparison
// when a test wants a hard reset without waiting for TTL expiry.
func (c *aclCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = map[aclKey]*list.Element{}
}

// ---- password hashing ----

// argon2 tuning mirrors the library's documented interactive-login
// defaults (time=1, memory=64MiB, parallelism=4).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// HashPassword returns an argon2id hash encoded as
// "<salt-hex>$<hash-hex>". Real deployments would also randomize salt per
// call; the engine always supplies one from crypto/rand at the caller.
func HashPassword(password string, salt []byte) string {
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("%x$%x", salt, hash)
}

// VerifyPassword recomputes the hash with the stored salt and compares.
func VerifyPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(want) == parts[1]
}
