package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferenceNumber builds a human-readable reference like PAY-20260115-3FA85F64.
// The random segment is the first uuid group, uppercased.
func ReferenceNumber(prefix string, at time.Time) string {
	random := strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), random)
}
