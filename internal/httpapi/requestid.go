package httpapi

import (
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// newRequestID builds spec §4.1's `chatcmpl-<time36>-<rand36>` response
// id: a base-36 timestamp keeps ids roughly sortable, a base-36 rendering
// of a fresh UUID supplies the random suffix without pulling in a second
// randomness source.
func newRequestID() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	u := uuid.New()
	var n big.Int
	n.SetBytes(u[:])
	return "chatcmpl-" + ts + "-" + n.Text(36)
}
