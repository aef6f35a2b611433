package http

import (
	"encoding/json"

	"github.com/pulsemeet/pulse-server/internal/core"
	"github.com/pulsemeet/pulse-server/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeRegister:
		return &core.Command{Kind: core.CommandRegister}, nil, nil
	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeTyping:
		var room proto.RoomData
		if err := json.Unmarshal(inbound.Data, &room); err != nil {
			return nil, nil, err
		}
		if room.Room == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room is required"}, nil
		}
		kind := core.CommandJoinRoom
		switch inbound.Type {
		case proto.InboundTypeLeave:
			kind = core.CommandLeaveRoom
		case proto.InboundTypeTyping:
			kind = core.CommandTyping
		}
		return &core.Command{Kind: kind, Room: room.Room}, nil, nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		if msg.Room == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room is required"}, nil
		}
		if msg.Text == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "text is required"}, nil
		}
		return &core.Command{
			Kind:    core.CommandSendMessage,
			Room:    msg.Room,
			Content: msg.Text,
			TempID:  msg.TempID,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMessage,
			Data: proto.EventMessage{
				ID:     event.Message.ID,
				Room:   event.Message.RoomID,
				Sender: event.Message.SenderID,
				Text:   event.Message.Content,
				TempID: event.Message.ClientTempID,
				TS:     event.Message.CreatedAt.UnixMilli(),
			},
		}
	case core.EventTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameTyping,
			Data: proto.EventTyping{
				Room: event.Room,
				User: event.User,
			},
		}
	case core.EventPresence:
		data := proto.EventPresence{
			User:   event.User,
			Online: event.Online,
		}
		if !event.LastSeen.IsZero() {
			data.LastSeen = event.LastSeen.UnixMilli()
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNamePresence,
			Data:  data,
		}
	case core.EventJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameJoined,
			Data:  proto.EventJoined{Room: event.Room},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		room := event.Error.Room
		if room == "" {
			room = event.Room
		}
		return proto.Outbound{
			Type: proto.OutboundTypeError,
			Error: &proto.Error{
				Code:   event.Error.Code,
				Msg:    event.Error.Message,
				Room:   room,
				TempID: event.Error.TempID,
			},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
