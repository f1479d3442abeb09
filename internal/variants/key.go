package variants

import (
	"strconv"
	"strings"
)

// Key identifies an ordered tuple of option values. Each value is Go-quoted, so invalid UTF-8 and
// separator characters survive byte for byte and two keys are equal exactly when the value
// sequences are equal.
type Key string

// KeyOf builds the key of an ordered value tuple.
func KeyOf(values []string) Key {
	var b strings.Builder
	b.WriteByte('[')
	for i, value := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(value))
	}
	b.WriteByte(']')
	return Key(b.String())
}
