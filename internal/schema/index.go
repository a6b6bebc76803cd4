package schema

import (
	"fmt"
	"math/bits"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// MaxFields is the size of the field namespace: fields are named a through z.
const MaxFields = 26

const (
	Ascending  = 1
	Descending = -1
)

// ConfigurationError reports a workload shape that cannot be realized, such as
// an index that needs more fields than the documents carry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// FieldName returns the name of the i-th document field.
func FieldName(i int) string {
	return string(rune('a' + i))
}

// FieldNames returns the names of the first n document fields.
func FieldNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = FieldName(i)
	}
	return names
}

// IndexField is one component of a compound index.
type IndexField struct {
	Field     string
	Direction int
}

// IndexSpec is an ordered compound index key.
type IndexSpec []IndexField

// Keys renders the index as a key document.
func (s IndexSpec) Keys() bson.D {
	keys := make(bson.D, 0, len(s))
	for _, f := range s {
		keys = append(keys, bson.E{Key: f.Field, Value: f.Direction})
	}
	return keys
}

// Name renders the canonical index name, e.g. "a_1_b_-1".
func (s IndexSpec) Name() string {
	parts := make([]string, 0, 2*len(s))
	for _, f := range s {
		parts = append(parts, f.Field, fmt.Sprint(f.Direction))
	}
	return strings.Join(parts, "_")
}

func direction(bit int) int {
	if bit == 0 {
		return Ascending
	}
	return Descending
}

// IndexKey derives the i-th compound index from the bit pattern of i. The low
// bit picks the direction of field "a"; every further bit, consumed by
// halving i until it is exhausted, appends the next field with the direction
// given by that bit.
func IndexKey(i, fields int) (IndexSpec, error) {
	if i < 0 {
		return nil, configErrorf("index number %d is negative", i)
	}
	if fields < 1 || fields > MaxFields {
		return nil, configErrorf("field count %d is outside [1, %d]", fields, MaxFields)
	}

	spec := IndexSpec{{Field: FieldName(0), Direction: direction(i % 2)}}
	i /= 2
	for x := 1; i > 0; x++ {
		if x >= fields {
			return nil, configErrorf("index needs more than %d fields", fields)
		}
		spec = append(spec, IndexField{Field: FieldName(x), Direction: direction(i % 2)})
		i /= 2
	}
	return spec, nil
}

// RequiredFields returns how many fields indexes 0 through n-1 need.
func RequiredFields(n int) int {
	if n <= 1 {
		return 1
	}
	return bits.Len(uint(n - 1))
}
