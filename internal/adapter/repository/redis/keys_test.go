package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyspace(t *testing.T) {
	assert.Equal(t, "tripledger:cache:tx:1", newKeyspace("", "cache").key("tx:1"))
	assert.Equal(t, "eu-ledger:idempotency:k", newKeyspace("eu-ledger:", "idempotency").key("k"))
	assert.Equal(t, []string{"ns:cache:a", "ns:cache:b"}, newKeyspace("ns", "cache").keys([]string{"a", "b"}))
}
