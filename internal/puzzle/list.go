package puzzle

// Helpers for pieces that carry a typed element list. Elements are
// held as scalar Values of the list's element kind.

func (t ListType) scalar(v Value) (Value, bool) {
	switch t {
	case ListBool:
		if v.Kind == KindBool {
			return v, true
		}
	case ListNum:
		if v.Kind == KindNum {
			return v, true
		}
	case ListLink:
		if v.Kind == KindLink {
			return v, true
		}
	}
	return Value{}, false
}

func (t ListType) list(v Value) ([]Value, bool) {
	switch t {
	case ListBool:
		if v.Kind == KindBoolList {
			out := make([]Value, len(v.Bools))
			for i, b := range v.Bools {
				out[i] = BoolValue(b)
			}
			return out, true
		}
	case ListNum:
		if v.Kind == KindNumList {
			out := make([]Value, len(v.Nums))
			for i, n := range v.Nums {
				out[i] = NumValue(n)
			}
			return out, true
		}
	case ListLink:
		if v.Kind == KindLinkList {
			out := make([]Value, len(v.Links))
			for i, l := range v.Links {
				out[i] = LinkValue(l)
			}
			return out, true
		}
	}
	return nil, false
}

func (t ListType) collect(items []Value) Value {
	switch t {
	case ListBool:
		bools := make([]bool, len(items))
		for i, v := range items {
			bools[i] = v.Bool
		}
		return BoolListValue(bools)
	case ListNum:
		nums := make([]uint32, len(items))
		for i, v := range items {
			nums[i] = v.Num
		}
		return NumListValue(nums)
	case ListLink:
		links := make([]Link, len(items))
		for i, v := range items {
			links[i] = v.Link
		}
		return LinkListValue(links)
	}
	return EmptyValue()
}

func (t ListType) valid() bool {
	return t == ListBool || t == ListNum || t == ListLink
}
