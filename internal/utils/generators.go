package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// SetNodeID pins the snowflake node used for order ids. It must be called
// before the first id is generated to have any effect.
func SetNodeID(id int64) {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(id % 1024)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
}

func snowflakeNode() *snowflake.Node {
	SetNodeID(1)
	return node
}

// GenerateOrderID derives an order id from the order store's sequence. The
// snowflake suffix keeps ids unique even if a snapshot is restored and the
// sequence replays.
func GenerateOrderID(seq int64) string {
	return fmt.Sprintf("ORD-%06d-%s", seq, snowflakeNode().Generate().Base36())
}

func GenerateSessionID() string {
	return "qrs_" + uuid.NewString()
}

func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateShortCode returns a 6 character numeric code, used for the
// human readable pickup code printed on kitchen tickets.
func GenerateShortCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
