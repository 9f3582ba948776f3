package puzzle

import "testing"

func TestComparisonOps(t *testing.T) {
	cases := []struct {
		name   string
		cmp    Comparison
		source uint32
		ref    uint32
		want   bool
	}{
		{"eq hit", Comparison{Op: CompareEqual}, 4, 4, true},
		{"eq miss", Comparison{Op: CompareEqual}, 4, 5, false},
		{"ne", Comparison{Op: CompareNotEqual}, 4, 5, true},
		{"lt", Comparison{Op: CompareLessThan}, 3, 4, true},
		{"le equal", Comparison{Op: CompareLessThanOrEqual}, 4, 4, true},
		{"gt", Comparison{Op: CompareGreaterThan}, 5, 4, true},
		{"ge miss", Comparison{Op: CompareGreaterThanOrEqual}, 3, 4, false},
		{"congruent hit", Comparison{Op: CompareCongruent, Modulus: 3}, 7, 1, true},
		{"congruent miss", Comparison{Op: CompareCongruent, Modulus: 3}, 7, 2, false},
		{"congruent zero modulus", Comparison{Op: CompareCongruent}, 7, 7, false},
	}
	for _, tc := range cases {
		if got := tc.cmp.Compare(tc.source, tc.ref); got != tc.want {
			t.Errorf("%s: Compare(%d, %d) = %v, want %v", tc.name, tc.source, tc.ref, got, tc.want)
		}
	}
}

func marked(m uint8) *uint8 { return &m }

func TestMarkMatchers(t *testing.T) {
	cases := []struct {
		name string
		m    MarkMatcher
		mark *uint8
		want bool
	}{
		{"any with mark", AnyPlayer(), marked(3), true},
		{"any without mark", AnyPlayer(), nil, true},
		{"unmarked hit", MarkMatcher{Kind: MatchUnmarked}, nil, true},
		{"unmarked miss", MarkMatcher{Kind: MatchUnmarked}, marked(0), false},
		{"marked in set", MarkMatcher{Kind: MatchMarked, States: []uint8{1, 2}}, marked(2), true},
		{"marked out of set", MarkMatcher{Kind: MatchMarked, States: []uint8{1, 2}}, marked(3), false},
		{"marked unmarked fallback", MarkMatcher{Kind: MatchMarked, States: []uint8{1}, WhenUnmarked: true}, nil, true},
		{"not marked", MarkMatcher{Kind: MatchNotMarked, States: []uint8{1}}, marked(2), true},
		{"not marked excluded", MarkMatcher{Kind: MatchNotMarked, States: []uint8{1}}, marked(1), false},
		{"has bit", MarkMatcher{Kind: MatchHasBit, Bit: 2}, marked(0b100), true},
		{"has bit clear", MarkMatcher{Kind: MatchHasBit, Bit: 2}, marked(0b011), false},
		{"has not bit", MarkMatcher{Kind: MatchHasNotBit, Bit: 0}, marked(0b10), true},
		{"bit out of range", MarkMatcher{Kind: MatchHasBit, Bit: 9, WhenUnmarked: true}, marked(1), true},
	}
	for _, tc := range cases {
		if got := tc.m.Matches(tc.mark); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTransformers(t *testing.T) {
	settings := func(name string) (Link, bool) {
		if name == "lobby" {
			return Link{Kind: LinkOwner, Asset: "lobby-asset"}, true
		}
		return Link{}, false
	}

	cases := []struct {
		name     string
		tr       Transformer
		in       Value
		want     Value
		suppress bool
	}{
		{"unchanged", Transformer{Kind: TransformUnchanged}, NumValue(9), NumValue(9), false},
		{"empty to bool", Transformer{Kind: TransformEmptyToBool, Bool: true}, EmptyValue(), BoolValue(true), false},
		{"empty to bool mismatch", Transformer{Kind: TransformEmptyToBool, Bool: true}, NumValue(1), Value{}, true},
		{"empty to num", Transformer{Kind: TransformEmptyToNum, Num: 30}, EmptyValue(), NumValue(30), false},
		{"empty to home", Transformer{Kind: TransformEmptyToHome}, EmptyValue(), LinkValue(HomeLink()), false},
		{"empty to train", Transformer{Kind: TransformEmptyToTrainNext}, EmptyValue(), LinkValue(TrainNextLink()), false},
		{"empty to setting", Transformer{Kind: TransformEmptyToSetting, Setting: "lobby"},
			EmptyValue(), LinkValue(Link{Kind: LinkOwner, Asset: "lobby-asset"}), false},
		{"empty to missing setting", Transformer{Kind: TransformEmptyToSetting, Setting: "nope"}, EmptyValue(), Value{}, true},
		{"bool invert", Transformer{Kind: TransformBoolInvert}, BoolValue(true), BoolValue(false), false},
		{"bool to empty match", Transformer{Kind: TransformBoolToEmpty, Bool: false}, BoolValue(false), EmptyValue(), false},
		{"bool to empty mismatch", Transformer{Kind: TransformBoolToEmpty, Bool: false}, BoolValue(true), Value{}, true},
		{"bool to num", Transformer{Kind: TransformBoolToNum, Bool: true, Num: 7}, BoolValue(true), NumValue(7), false},
		{"num to bool", Transformer{Kind: TransformNumToBool, Compare: Comparison{Op: CompareGreaterThan}, Num: 0},
			NumValue(5), BoolValue(true), false},
		{"num to empty pass", Transformer{Kind: TransformNumToEmpty, Compare: Comparison{Op: CompareEqual}, Num: 3},
			NumValue(3), EmptyValue(), false},
		{"num to empty suppress", Transformer{Kind: TransformNumToEmpty, Compare: Comparison{Op: CompareEqual}, Num: 3},
			NumValue(4), Value{}, true},
		{"num to bool list high first", Transformer{Kind: TransformNumToBoolList, Bits: 4},
			NumValue(0b1010), BoolListValue([]bool{true, false, true, false}), false},
		{"num to bool list low first", Transformer{Kind: TransformNumToBoolList, Bits: 4, LowFirst: true},
			NumValue(0b1010), BoolListValue([]bool{false, true, false, true}), false},
		{"any to empty", Transformer{Kind: TransformAnyToEmpty}, NumListValue([]uint32{1, 2}), EmptyValue(), false},
	}
	for _, tc := range cases {
		got, ok := tc.tr.Apply(tc.in, settings)
		if ok == tc.suppress {
			t.Errorf("%s: ok = %v, want suppress=%v", tc.name, ok, tc.suppress)
			continue
		}
		if !tc.suppress && !got.Equal(tc.want) {
			t.Errorf("%s: Apply = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}
