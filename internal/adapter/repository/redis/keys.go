package redis

import "strings"

// DefaultNamespace prefixes every key written by this package.
const DefaultNamespace = "tripledger"

// keyspace scopes keys as "<namespace>:<area>:<name>" so several ledgers
// can share one Redis database.
type keyspace string

func newKeyspace(namespace, area string) keyspace {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return keyspace(namespace + ":" + area + ":")
}

func (k keyspace) key(name string) string {
	return string(k) + name
}

func (k keyspace) keys(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = k.key(name)
	}
	return out
}
