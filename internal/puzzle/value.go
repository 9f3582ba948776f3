package puzzle

import "fmt"

// ValueKind discriminates the payload universe shared by commands and
// events: empty, bool, num, link, and the three list forms.
type ValueKind uint8

const (
	KindEmpty ValueKind = iota
	KindBool
	KindNum
	KindLink
	KindBoolList
	KindNumList
	KindLinkList
)

func (k ValueKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindBool:
		return "bool"
	case KindNum:
		return "num"
	case KindLink:
		return "link"
	case KindBoolList:
		return "bool_list"
	case KindNumList:
		return "num_list"
	case KindLinkList:
		return "link_list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// LinkKind names where a link sends a player.
type LinkKind uint8

const (
	LinkGlobal LinkKind = iota + 1
	LinkOwner
	LinkSpawn
	LinkHome
	LinkTrainNext
)

// Link is a realm or spawn point a player can be sent to.
type Link struct {
	Kind   LinkKind `msgpack:"kind"`
	Owner  string   `msgpack:"owner,omitempty"`
	Server string   `msgpack:"server,omitempty"`
	Asset  string   `msgpack:"asset,omitempty"`
	Spawn  string   `msgpack:"spawn,omitempty"`
}

func HomeLink() Link      { return Link{Kind: LinkHome} }
func TrainNextLink() Link { return Link{Kind: LinkTrainNext} }

func (l Link) Equal(o Link) bool { return l == o }

// Value is the tagged payload attached to commands and events. The
// zero value is Empty.
type Value struct {
	Kind  ValueKind `msgpack:"kind"`
	Bool  bool      `msgpack:"bool,omitempty"`
	Num   uint32    `msgpack:"num,omitempty"`
	Link  Link      `msgpack:"link,omitempty"`
	Bools []bool    `msgpack:"bools,omitempty"`
	Nums  []uint32  `msgpack:"nums,omitempty"`
	Links []Link    `msgpack:"links,omitempty"`
}

func EmptyValue() Value            { return Value{} }
func BoolValue(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func NumValue(n uint32) Value      { return Value{Kind: KindNum, Num: n} }
func LinkValue(l Link) Value       { return Value{Kind: KindLink, Link: l} }
func BoolListValue(b []bool) Value { return Value{Kind: KindBoolList, Bools: b} }
func NumListValue(n []uint32) Value {
	return Value{Kind: KindNumList, Nums: n}
}
func LinkListValue(l []Link) Value { return Value{Kind: KindLinkList, Links: l} }

func (v Value) IsEmpty() bool { return v.Kind == KindEmpty }

// AsBool returns the payload as a bool if it is one.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsNum returns the payload as a number if it is one.
func (v Value) AsNum() (uint32, bool) {
	if v.Kind != KindNum {
		return 0, false
	}
	return v.Num, true
}

// AsLink returns the payload as a link if it is one.
func (v Value) AsLink() (Link, bool) {
	if v.Kind != KindLink {
		return Link{}, false
	}
	return v.Link, true
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindEmpty:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNum:
		return v.Num == o.Num
	case KindLink:
		return v.Link == o.Link
	case KindBoolList:
		if len(v.Bools) != len(o.Bools) {
			return false
		}
		for i := range v.Bools {
			if v.Bools[i] != o.Bools[i] {
				return false
			}
		}
		return true
	case KindNumList:
		if len(v.Nums) != len(o.Nums) {
			return false
		}
		for i := range v.Nums {
			if v.Nums[i] != o.Nums[i] {
				return false
			}
		}
		return true
	case KindLinkList:
		if len(v.Links) != len(o.Links) {
			return false
		}
		for i := range v.Links {
			if v.Links[i] != o.Links[i] {
				return false
			}
		}
		return true
	}
	return false
}
