package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID("txn")
		require.True(t, strings.HasPrefix(id, "txn_"))
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestReferenceFormats(t *testing.T) {
	ref := TransactionReference()
	assert.True(t, strings.HasPrefix(ref, "TXN-"))
	assert.Len(t, ref, len("TXN-")+12)

	num := BillNumber()
	assert.True(t, strings.HasPrefix(num, "BILL-"))
	assert.Len(t, num, len("BILL-")+8)
}

func TestGenerateAccountNumber(t *testing.T) {
	acct := GenerateAccountNumber()
	assert.Len(t, acct, 10)
	assert.NotEqual(t, byte('0'), acct[0])
}
