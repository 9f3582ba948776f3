package session

import (
	"fmt"
	"time"

	"spadina.network/internal/directory"
	"spadina.network/internal/nav"
	"spadina.network/internal/protocol"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/realm"
)

func realmAction(a protocol.Action) (realm.Action, error) {
	switch a.Kind {
	case protocol.ActionMove:
		return realm.Action{Kind: realm.ActionMove, Point: nav.PointID(a.Point)}, nil
	case protocol.ActionRotate:
		return realm.Action{Kind: realm.ActionRotate, Direction: a.Direction}, nil
	case protocol.ActionInteract:
		var gesture puzzle.InteractionKind
		switch a.Gesture {
		case protocol.GestureClick:
			gesture = puzzle.InteractClick
		case protocol.GestureRealm:
			gesture = puzzle.InteractRealm
		default:
			return realm.Action{}, fmt.Errorf("unknown gesture %d", a.Gesture)
		}
		return realm.Action{
			Kind:        realm.ActionInteract,
			Piece:       a.Piece,
			Interaction: puzzle.Interaction{Kind: gesture, Link: a.Target.Link()},
		}, nil
	case protocol.ActionEmote:
		return realm.Action{
			Kind:      realm.ActionEmote,
			Animation: a.Animation,
			Duration:  time.Duration(a.DurationMS) * time.Millisecond,
		}, nil
	default:
		return realm.Action{}, fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

func wireSetting(s realm.Setting) protocol.Setting {
	return protocol.Setting{Kind: s.Kind, Bool: s.Bool, Num: s.Num, Real: s.Real, Text: s.Text, Link: s.Link}
}

func realmSetting(s protocol.Setting) realm.Setting {
	return realm.Setting{Kind: s.Kind, Bool: s.Bool, Num: s.Num, Real: s.Real, Text: s.Text, Link: s.Link}
}

func wireAnnouncement(a realm.Announcement) protocol.Announcement {
	return protocol.Announcement{ID: a.ID, Title: a.Title, Body: a.Body, Expires: a.Expires}
}

func realmAnnouncement(a protocol.Announcement) realm.Announcement {
	return realm.Announcement{ID: a.ID, Title: a.Title, Body: a.Body, Expires: a.Expires}
}

func wireAnnouncements(in []realm.Announcement) []protocol.Announcement {
	out := make([]protocol.Announcement, 0, len(in))
	for _, a := range in {
		out = append(out, wireAnnouncement(a))
	}
	return out
}

func wireChat(m realm.ChatMessage) protocol.ChatMessage {
	return protocol.ChatMessage{Sender: m.Principal.String(), At: m.At, Body: m.Body}
}

func wirePresence(p realm.Presence) protocol.Presence {
	return protocol.Presence{Player: uint64(p.Key), Name: p.Principal.String(), Avatar: p.Avatar, At: uint32(p.At)}
}

func wireSteps(steps []realm.TimedStep) []protocol.TimedStep {
	out := make([]protocol.TimedStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, protocol.TimedStep{
			Edge:   s.Step.Edge,
			From:   uint32(s.Step.From),
			To:     uint32(s.Step.To),
			Arrive: s.Arrive,
		})
	}
	return out
}

// snapshotMessage renders an admission snapshot.
func snapshotMessage(id uint32, key directory.Key, self realm.PlayerKey, snap *realm.Snapshot) protocol.RealmSnapshot {
	msg := protocol.RealmSnapshot{
		ID:         id,
		Name:       snap.Name,
		Owner:      key.Owner,
		Asset:      key.Asset,
		Self:       uint64(self),
		Position:   uint32(snap.Position),
		Properties: snap.Properties,
		Gates:      snap.Gates,
		Settings:   map[string]protocol.Setting{},
	}
	for name, s := range snap.Settings {
		msg.Settings[name] = wireSetting(s)
	}
	for _, m := range snap.Chat {
		msg.Chat = append(msg.Chat, wireChat(m))
	}
	msg.Announcements = wireAnnouncements(snap.Announcements)
	for _, p := range snap.Players {
		msg.Players = append(msg.Players, wirePresence(p))
	}
	return msg
}

// UpdateMessage renders a realm push for the wire. Admission
// snapshots are rendered separately; they need the realm key.
func UpdateMessage(u realm.Update) protocol.ServerMessage {
	switch v := u.(type) {
	case realm.PropertyChanged:
		return protocol.PropertyChanged{Name: v.Name, Value: v.Value}
	case realm.GateChanged:
		return protocol.GateChanged{Name: v.Name, Open: v.Open}
	case realm.CommittedPath:
		return protocol.CommittedPath{
			Player:      uint64(v.Player),
			Start:       uint32(v.Start),
			Steps:       wireSteps(v.Steps),
			PendingGate: v.PendingGate,
		}
	case realm.ChatUpdate:
		return protocol.ChatPush{Message: wireChat(v.Message)}
	case realm.PresenceChanged:
		return protocol.PresenceChanged{Presence: wirePresence(v.Presence), Entered: v.Entered}
	case realm.PoseChanged:
		return protocol.PoseChanged{
			Player:     uint64(v.Player),
			Direction:  v.Direction,
			Animation:  v.Animation,
			DurationMS: uint32(v.Duration / time.Millisecond),
		}
	case realm.AnnouncementsChanged:
		return protocol.AnnouncementsChanged{Announcements: wireAnnouncements(v.Announcements)}
	case realm.SettingUpdated:
		return protocol.SettingUpdated{Name: v.Name, Value: wireSetting(v.Value)}
	case realm.RealmBroken:
		return protocol.RealmBroken{}
	case realm.Kicked:
		return protocol.Kicked{Reason: v.Reason}
	default:
		return nil
	}
}
