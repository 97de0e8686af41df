package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateID returns a sortable, prefixed identifier, e.g. txn_01J8Z...
func GenerateID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + strings.ToLower(id.String())
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var referenceCounter uint64

// GenerateReference creates an uppercase reference of the given body length,
// e.g. TXN-4F7X2KD9Q0ZL. Timestamp and counter give ordering, the random
// suffix breaks predictability.
func GenerateReference(prefix string, length int) string {
	counter := atomic.AddUint64(&referenceCounter, 1)
	num := big.NewInt(time.Now().UnixMilli()*1000 + int64(counter%1000))
	body := strings.ToUpper(num.Text(36)) + randomBase36(4)

	if len(body) > length {
		body = body[len(body)-length:]
	} else if len(body) < length {
		body = strings.Repeat("0", length-len(body)) + body
	}
	return prefix + "-" + body
}

func randomBase36(n int) string {
	out := make([]byte, n)
	for i := range out {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			panic(err)
		}
		out[i] = base36[num.Int64()]
	}
	return string(out)
}

// GenerateAccountNumber returns a 10 digit wallet account number.
func GenerateAccountNumber() string {
	out := make([]byte, 10)
	for i := range out {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		out[i] = byte('0' + num.Int64())
	}
	if out[0] == '0' {
		out[0] = '1'
	}
	return string(out)
}

func TransactionReference() string { return GenerateReference("TXN", 12) }
func BillNumber() string           { return GenerateReference("BILL", 8) }
