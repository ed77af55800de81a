package vectorindex

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Filter is a metadata constraint in Pinecone's filter language.
// Supported forms per field: a bare value (equality), or an operator map
// with $eq, $ne, $in or $nin.
//
//	Filter{"model": "bge"}
//	Filter{"userId": {"$nin": []any{"1", "2"}}}
type Filter map[string]any

// Eq adds an equality constraint and returns f.
func (f Filter) Eq(field string, v any) Filter {
	f[field] = v
	return f
}

// Ne adds an inequality constraint and returns f.
func (f Filter) Ne(field string, v any) Filter {
	f[field] = map[string]any{"$ne": v}
	return f
}

// NotIn adds an exclusion list and returns f. Empty lists are skipped.
func (f Filter) NotIn(field string, vs []string) Filter {
	if len(vs) == 0 {
		return f
	}
	f[field] = map[string]any{"$nin": stringsToAny(vs)}
	return f
}

// ToStruct converts the filter to the protobuf form Pinecone expects.
// A nil or empty filter yields nil.
func (f Filter) ToStruct() (*structpb.Struct, error) {
	if len(f) == 0 {
		return nil, nil
	}
	s, err := structpb.NewStruct(normalize(map[string]any(f)).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: building metadata filter: %w", err)
	}
	return s, nil
}

// Matches evaluates the filter against metadata in process.
func (f Filter) Matches(md Metadata) (bool, error) {
	for field, cond := range f {
		got, present := md[field]
		ops, isOps := cond.(map[string]any)
		if !isOps {
			ops = map[string]any{"$eq": cond}
		}
		for op, want := range ops {
			ok, err := evalOp(op, got, present, want)
			if err != nil {
				return false, fmt.Errorf("vectorindex: field %q: %w", field, err)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func evalOp(op string, got any, present bool, want any) (bool, error) {
	switch op {
	case "$eq":
		return present && sameValue(got, want), nil
	case "$ne":
		return !present || !sameValue(got, want), nil
	case "$in", "$nin":
		list, ok := normalize(want).([]any)
		if !ok {
			return false, fmt.Errorf("%s expects a list, got %T", op, want)
		}
		in := false
		if present {
			for _, v := range list {
				if sameValue(got, v) {
					in = true
					break
				}
			}
		}
		if op == "$in" {
			return in, nil
		}
		return !in, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}

// sameValue compares through structpb so 3, int64(3) and 3.0 are equal.
func sameValue(a, b any) bool {
	va, errA := structpb.NewValue(normalize(a))
	vb, errB := structpb.NewValue(normalize(b))
	if errA != nil || errB != nil {
		return false
	}
	return proto.Equal(va, vb)
}

// normalize rewrites typed slices into []any, which structpb accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case []string:
		return stringsToAny(t)
	case []uint64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	case Filter:
		return normalize(map[string]any(t))
	case Metadata:
		return normalize(map[string]any(t))
	default:
		return v
	}
}

func stringsToAny(vs []string) []any {
	out := make([]any, len(vs))
	for i, s := range vs {
		out[i] = s
	}
	return out
}
