package puzzle

// Comparison is the integer comparison used by transformers.
type Comparison struct {
	Op      ComparisonOp `msgpack:"op"`
	Modulus uint32       `msgpack:"modulus,omitempty"`
}

type ComparisonOp string

const (
	CompareNotEqual           ComparisonOp = "ne"
	CompareEqual              ComparisonOp = "eq"
	CompareLessThanOrEqual    ComparisonOp = "le"
	CompareLessThan           ComparisonOp = "lt"
	CompareGreaterThanOrEqual ComparisonOp = "ge"
	CompareGreaterThan        ComparisonOp = "gt"
	// CompareCongruent compares source and reference modulo Modulus.
	CompareCongruent ComparisonOp = "congruent"
)

func (c Comparison) Compare(source, reference uint32) bool {
	switch c.Op {
	case CompareNotEqual:
		return source != reference
	case CompareEqual:
		return source == reference
	case CompareLessThanOrEqual:
		return source <= reference
	case CompareLessThan:
		return source < reference
	case CompareGreaterThanOrEqual:
		return source >= reference
	case CompareGreaterThan:
		return source > reference
	case CompareCongruent:
		if c.Modulus == 0 {
			return false
		}
		return source%c.Modulus == reference%c.Modulus
	default:
		return false
	}
}

// MarkMatcher filters players by their per-realm mark.
type MarkMatcher struct {
	Kind MarkMatcherKind `msgpack:"kind"`
	// States is the mark set for Marked/NotMarked, Bit the bit index
	// for HasBit/HasNotBit.
	States []uint8 `msgpack:"states,omitempty"`
	Bit    uint8   `msgpack:"bit,omitempty"`
	// WhenUnmarked is the result for players carrying no mark at all.
	WhenUnmarked bool `msgpack:"when_unmarked,omitempty"`
}

type MarkMatcherKind string

const (
	MatchAny       MarkMatcherKind = "any"
	MatchUnmarked  MarkMatcherKind = "unmarked"
	MatchMarked    MarkMatcherKind = "marked"
	MatchNotMarked MarkMatcherKind = "not_marked"
	MatchHasBit    MarkMatcherKind = "has_bit"
	MatchHasNotBit MarkMatcherKind = "has_not_bit"
)

// AnyPlayer matches every player regardless of mark.
func AnyPlayer() MarkMatcher { return MarkMatcher{Kind: MatchAny} }

// Matches reports whether a player with the given mark passes. A nil
// mark means the player has never been marked in this realm.
func (m MarkMatcher) Matches(mark *uint8) bool {
	switch m.Kind {
	case MatchAny:
		return true
	case MatchUnmarked:
		return mark == nil
	case MatchMarked:
		if mark == nil {
			return m.WhenUnmarked
		}
		for _, s := range m.States {
			if s == *mark {
				return true
			}
		}
		return false
	case MatchNotMarked:
		if mark == nil {
			return m.WhenUnmarked
		}
		for _, s := range m.States {
			if s == *mark {
				return false
			}
		}
		return true
	case MatchHasBit:
		if mark == nil {
			return m.WhenUnmarked
		}
		if m.Bit > 7 {
			return m.WhenUnmarked
		}
		return *mark&(1<<m.Bit) != 0
	case MatchHasNotBit:
		if mark == nil {
			return m.WhenUnmarked
		}
		if m.Bit > 7 {
			return m.WhenUnmarked
		}
		return *mark&(1<<m.Bit) == 0
	default:
		return false
	}
}

// TransformerKind enumerates the fixed transformer catalogue.
type TransformerKind string

const (
	TransformUnchanged        TransformerKind = "unchanged"
	TransformEmptyToBool      TransformerKind = "empty_to_bool"
	TransformEmptyToNum       TransformerKind = "empty_to_num"
	TransformEmptyToBoolList  TransformerKind = "empty_to_bool_list"
	TransformEmptyToNumList   TransformerKind = "empty_to_num_list"
	TransformEmptyToGlobal    TransformerKind = "empty_to_global_realm"
	TransformEmptyToOwner     TransformerKind = "empty_to_owner_realm"
	TransformEmptyToSetting   TransformerKind = "empty_to_setting_realm"
	TransformEmptyToSpawn     TransformerKind = "empty_to_spawn_point"
	TransformEmptyToTrainNext TransformerKind = "empty_to_train_next"
	TransformEmptyToHome      TransformerKind = "empty_to_home"
	TransformBoolInvert       TransformerKind = "bool_invert"
	TransformBoolToEmpty      TransformerKind = "bool_to_empty"
	TransformBoolToNum        TransformerKind = "bool_to_num"
	TransformBoolToNumList    TransformerKind = "bool_to_num_list"
	TransformBoolToBoolList   TransformerKind = "bool_to_bool_list"
	TransformNumToEmpty       TransformerKind = "num_to_empty"
	TransformNumToBool        TransformerKind = "num_to_bool"
	TransformNumToBoolList    TransformerKind = "num_to_bool_list"
	TransformAnyToEmpty       TransformerKind = "any_to_empty"
)

// Transformer converts an event payload into a command payload. A
// failed match suppresses the command entirely.
type Transformer struct {
	Kind TransformerKind `msgpack:"kind"`

	Bool     bool       `msgpack:"bool,omitempty"`
	Num      uint32     `msgpack:"num,omitempty"`
	Bools    []bool     `msgpack:"bools,omitempty"`
	Nums     []uint32   `msgpack:"nums,omitempty"`
	Realm    string     `msgpack:"realm,omitempty"`
	Server   string     `msgpack:"server,omitempty"`
	Asset    string     `msgpack:"asset,omitempty"`
	Setting  string     `msgpack:"setting,omitempty"`
	Spawn    string     `msgpack:"spawn,omitempty"`
	Compare  Comparison `msgpack:"compare,omitempty"`
	Bits     uint32     `msgpack:"bits,omitempty"`
	LowFirst bool       `msgpack:"low_first,omitempty"`
}

// SettingLookup resolves a named realm setting to a link, for the
// setting-realm transformer.
type SettingLookup func(name string) (Link, bool)

// Apply runs the transformer. The second return is false when the
// command should be suppressed.
func (t Transformer) Apply(in Value, settings SettingLookup) (Value, bool) {
	switch t.Kind {
	case TransformUnchanged:
		return in, true
	case TransformEmptyToBool:
		if in.IsEmpty() {
			return BoolValue(t.Bool), true
		}
	case TransformEmptyToNum:
		if in.IsEmpty() {
			return NumValue(t.Num), true
		}
	case TransformEmptyToBoolList:
		if in.IsEmpty() {
			return BoolListValue(append([]bool(nil), t.Bools...)), true
		}
	case TransformEmptyToNumList:
		if in.IsEmpty() {
			return NumListValue(append([]uint32(nil), t.Nums...)), true
		}
	case TransformEmptyToGlobal:
		if in.IsEmpty() {
			return LinkValue(Link{Kind: LinkGlobal, Owner: t.Realm, Server: t.Server}), true
		}
	case TransformEmptyToOwner:
		if in.IsEmpty() {
			return LinkValue(Link{Kind: LinkOwner, Asset: t.Asset}), true
		}
	case TransformEmptyToSetting:
		if in.IsEmpty() && settings != nil {
			if link, ok := settings(t.Setting); ok {
				return LinkValue(link), true
			}
		}
	case TransformEmptyToSpawn:
		if in.IsEmpty() {
			return LinkValue(Link{Kind: LinkSpawn, Spawn: t.Spawn}), true
		}
	case TransformEmptyToTrainNext:
		if in.IsEmpty() {
			return LinkValue(TrainNextLink()), true
		}
	case TransformEmptyToHome:
		if in.IsEmpty() {
			return LinkValue(HomeLink()), true
		}
	case TransformBoolInvert:
		if b, ok := in.AsBool(); ok {
			return BoolValue(!b), true
		}
	case TransformBoolToEmpty:
		if b, ok := in.AsBool(); ok && b == t.Bool {
			return EmptyValue(), true
		}
	case TransformBoolToNum:
		if b, ok := in.AsBool(); ok && b == t.Bool {
			return NumValue(t.Num), true
		}
	case TransformBoolToNumList:
		if b, ok := in.AsBool(); ok && b == t.Bool {
			return NumListValue(append([]uint32(nil), t.Nums...)), true
		}
	case TransformBoolToBoolList:
		if b, ok := in.AsBool(); ok && b == t.Bool {
			return BoolListValue(append([]bool(nil), t.Bools...)), true
		}
	case TransformNumToEmpty:
		if n, ok := in.AsNum(); ok && t.Compare.Compare(n, t.Num) {
			return EmptyValue(), true
		}
	case TransformNumToBool:
		if n, ok := in.AsNum(); ok {
			return BoolValue(t.Compare.Compare(n, t.Num)), true
		}
	case TransformNumToBoolList:
		if n, ok := in.AsNum(); ok {
			bits := make([]bool, 0, t.Bits)
			if t.LowFirst {
				for i := uint32(0); i < t.Bits; i++ {
					bits = append(bits, n&(1<<i) != 0)
				}
			} else {
				for i := int(t.Bits) - 1; i >= 0; i-- {
					bits = append(bits, n&(1<<uint32(i)) != 0)
				}
			}
			return BoolListValue(bits), true
		}
	case TransformAnyToEmpty:
		return EmptyValue(), true
	}
	return Value{}, false
}

// PropagationRule wires one piece's event into another piece's command.
type PropagationRule struct {
	Sender      uint32      `msgpack:"sender"`
	Trigger     Event       `msgpack:"trigger"`
	Recipient   uint32      `msgpack:"recipient"`
	Causes      Command     `msgpack:"causes"`
	Transformer Transformer `msgpack:"transformer"`
}

// ConsequenceTarget says where a consequence rule publishes.
type ConsequenceTargetKind string

const (
	// ConsequenceProperty publishes a client-visible property value.
	ConsequenceProperty ConsequenceTargetKind = "property"
	// ConsequenceGate opens or closes a manifold edge gate.
	ConsequenceGate ConsequenceTargetKind = "gate"
	// ConsequenceDebut flips the sending player's debut flag when the
	// bound event fires with a true payload.
	ConsequenceDebut ConsequenceTargetKind = "debut"
)

// ConsequenceRule binds a piece event to a client-visible effect.
type ConsequenceRule struct {
	Sender  uint32                `msgpack:"sender"`
	Trigger Event                 `msgpack:"trigger"`
	Target  ConsequenceTargetKind `msgpack:"target"`
	// Name is the property name or gate id, depending on Target.
	Name string `msgpack:"name,omitempty"`
}
