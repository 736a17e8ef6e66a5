// Package proto defines the tagged-union wire messages exchanged on both
// control channels (agent<->server, user<->server) and their JSON codec.
// Every frame is a UTF-8 JSON text frame with a snake_case "type"
// discriminator; PTY byte payloads travel as standard base64.
//
// A handful of type strings are reused across directions with different
// shapes (create_instance, close_instance, pty_input, resize each mean
// one thing on the user->server channel and another on the
// server->agent channel). Decoding is therefore channel-scoped: callers
// use the Decode* function matching the frame's direction rather than a
// single global decoder.
package proto

import (
	"encoding/json"
	"fmt"
)

// Agent->Server message types.
const (
	TypeRegister        = "register"
	TypeInstanceCreated = "instance_created"
	TypeInstanceClosed  = "instance_closed"
	TypePTYOutput       = "pty_output"
	TypeHeartbeat       = "heartbeat"
	TypeError           = "error"
)

// Server->Agent message types.
const (
	TypeRegistered     = "registered"
	TypeCreateInstance = "create_instance"
	TypeCloseInstance  = "close_instance"
	TypePTYInput       = "pty_input"
	TypeResize         = "resize"
	TypePing           = "ping"
)

// User->Server message types.
const (
	TypeAuth               = "auth"
	TypeAttach             = "attach"
	TypeDetach             = "detach"
	TypeListInstances      = "list_instances"
	TypeGetAdminStats      = "get_admin_stats"
	TypeForceDisconnect    = "force_disconnect_agent"
	TypeForceClose         = "force_close_instance"
	TypeDeleteAgent        = "delete_agent"
	TypeSelectWorkingAgent = "select_working_agent"
	TypeClearWorkingAgent  = "clear_working_agent"
	TypeListAgentInstances = "list_agent_instances"
	TypeGetAllTags         = "get_all_tags"
	TypeGetAgentTags       = "get_agent_tags"
	TypeAddAgentTag        = "add_agent_tag"
	TypeRemoveAgentTag     = "remove_agent_tag"
	TypeGetAuditLogs       = "get_audit_logs"
)

// Server->User message types.
const (
	TypeAuthResult           = "auth_result"
	TypeInstanceList         = "instance_list"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeAgentStatusChanged   = "agent_status_changed"
	TypePong                 = "pong"
	TypeAdminStats           = "admin_stats"
	TypeWorkingAgentSelected = "working_agent_selected"
	TypeAllTags              = "all_tags"
	TypeAgentTags            = "agent_tags"
	TypeAuditLogs            = "audit_logs"
	TypeAgentInstances       = "agent_instances"
)

// envelope is the shape every frame shares before its type-specific
// fields are decoded.
type envelope struct {
	Type string `json:"type"`
}

func decodeInto[T any](raw []byte) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeVia(raw []byte, table map[string]func([]byte) (any, error)) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	ctor, ok := table[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	return ctor(raw)
}

// Encode marshals a concrete message struct back to its JSON frame. Each
// struct embeds its own Type field set by the constructor helpers in
// types.go.
func Encode(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

var agentToServer = map[string]func([]byte) (any, error){
	TypeRegister:        func(b []byte) (any, error) { return decodeInto[Register](b) },
	TypeInstanceCreated: func(b []byte) (any, error) { return decodeInto[InstanceCreated](b) },
	TypeInstanceClosed:  func(b []byte) (any, error) { return decodeInto[InstanceClosed](b) },
	TypePTYOutput:       func(b []byte) (any, error) { return decodeInto[PTYOutput](b) },
	TypeHeartbeat:       func(b []byte) (any, error) { return decodeInto[Heartbeat](b) },
	TypeError:           func(b []byte) (any, error) { return decodeInto[ErrorMsg](b) },
}

// DecodeFromAgent decodes a frame sent by the agent to the server.
func DecodeFromAgent(raw []byte) (any, error) { return decodeVia(raw, agentToServer) }

var serverToAgent = map[string]func([]byte) (any, error){
	TypeRegistered:     func(b []byte) (any, error) { return decodeInto[Registered](b) },
	TypeCreateInstance: func(b []byte) (any, error) { return decodeInto[CreateInstance](b) },
	TypeCloseInstance:  func(b []byte) (any, error) { return decodeInto[CloseInstance](b) },
	TypePTYInput:       func(b []byte) (any, error) { return decodeInto[PTYInput](b) },
	TypeResize:         func(b []byte) (any, error) { return decodeInto[Resize](b) },
	TypePing:           func(b []byte) (any, error) { return decodeInto[Ping](b) },
	TypeError:          func(b []byte) (any, error) { return decodeInto[ErrorMsg](b) },
}

// DecodeFromServerToAgent decodes a frame sent by the server to the agent.
func DecodeFromServerToAgent(raw []byte) (any, error) { return decodeVia(raw, serverToAgent) }

var userToServer = map[string]func([]byte) (any, error){
	TypeAuth:               func(b []byte) (any, error) { return decodeInto[Auth](b) },
	TypeCreateInstance:     func(b []byte) (any, error) { return decodeInto[CreateInstanceReq](b) },
	TypeCloseInstance:      func(b []byte) (any, error) { return decodeInto[CloseInstanceReq](b) },
	TypeAttach:             func(b []byte) (any, error) { return decodeInto[Attach](b) },
	TypeDetach:             func(b []byte) (any, error) { return decodeInto[Detach](b) },
	TypePTYInput:           func(b []byte) (any, error) { return decodeInto[PTYInputReq](b) },
	TypeResize:             func(b []byte) (any, error) { return decodeInto[ResizeReq](b) },
	TypeListInstances:      func(b []byte) (any, error) { return decodeInto[ListInstances](b) },
	TypeHeartbeat:          func(b []byte) (any, error) { return decodeInto[Heartbeat](b) },
	TypeGetAdminStats:      func(b []byte) (any, error) { return decodeInto[GetAdminStats](b) },
	TypeForceDisconnect:    func(b []byte) (any, error) { return decodeInto[ForceDisconnectAgent](b) },
	TypeForceClose:         func(b []byte) (any, error) { return decodeInto[ForceCloseInstance](b) },
	TypeDeleteAgent:        func(b []byte) (any, error) { return decodeInto[DeleteAgent](b) },
	TypeSelectWorkingAgent: func(b []byte) (any, error) { return decodeInto[SelectWorkingAgent](b) },
	TypeClearWorkingAgent:  func(b []byte) (any, error) { return decodeInto[ClearWorkingAgent](b) },
	TypeListAgentInstances: func(b []byte) (any, error) { return decodeInto[ListAgentInstances](b) },
	TypeGetAllTags:         func(b []byte) (any, error) { return decodeInto[GetAllTags](b) },
	TypeGetAgentTags:       func(b []byte) (any, error) { return decodeInto[GetAgentTags](b) },
	TypeAddAgentTag:        func(b []byte) (any, error) { return decodeInto[AddAgentTag](b) },
	TypeRemoveAgentTag:     func(b []byte) (any, error) { return decodeInto[RemoveAgentTag](b) },
	TypeGetAuditLogs:       func(b []byte) (any, error) { return decodeInto[GetAuditLogs](b) },
}

// DecodeFromUser decodes a frame sent by the user to the server.
func DecodeFromUser(raw []byte) (any, error) { return decodeVia(raw, userToServer) }
