package warpv1

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field helpers. Zero values are omitted, matching proto3 encoding.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedDoubles(b []byte, num protowire.Number, v []float64) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(v)*8))
	for _, f := range v {
		b = protowire.AppendFixed64(b, math.Float64bits(f))
	}
	return b
}

// fieldFunc decodes the value of one field from b and returns the number of
// bytes consumed, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

// decodeFields walks every field of an encoded message. Fields fn does not
// know are skipped with skipField.
func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

func consumeString(dst *string, b []byte) int {
	v, n := protowire.ConsumeString(b)
	*dst = v
	return n
}

func consumeBytes(dst *[]byte, b []byte) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeInt32(dst *int32, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	*dst = int32(v)
	return n
}

func consumeInt64(dst *int64, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	*dst = int64(v)
	return n
}

func consumeBool(dst *bool, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	*dst = protowire.DecodeBool(v)
	return n
}

func consumeDouble(dst *float64, b []byte) int {
	v, n := protowire.ConsumeFixed64(b)
	*dst = math.Float64frombits(v)
	return n
}

// consumeDoubles accepts both the packed and the unpacked encoding of a
// repeated double.
func consumeDoubles(dst *[]float64, typ protowire.Type, b []byte) int {
	if typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(b)
		if n >= 0 {
			*dst = append(*dst, math.Float64frombits(v))
		}
		return n
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return m
		}
		*dst = append(*dst, math.Float64frombits(v))
		packed = packed[m:]
	}
	return n
}
