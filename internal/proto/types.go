package proto

import "errors"

// ErrUnknownType is returned by the Decode* functions when a frame's "type" discriminator
// does not match any known message family. The codec treats this as a
// local rejection, never a channel close.
var ErrUnknownType = errors.New("proto: unknown message type")

// InstanceInfo is the reconnect-sync shape an agent reports for each
// still-running instance it owns.
type InstanceInfo struct {
	ID  string `json:"id"`
	Cwd string `json:"cwd"`
}

// --- Agent -> Server ---

type Register struct {
	Type             string         `json:"type"`
	AgentID          string         `json:"agent_id"`
	Name             string         `json:"name"`
	AdminToken       string         `json:"admin_token"`
	ShareToken       string         `json:"share_token"`
	ExistingInstances []InstanceInfo `json:"existing_instances"`
}

func NewRegister(agentID, name, adminToken, shareToken string, existing []InstanceInfo) Register {
	return Register{Type: TypeRegister, AgentID: agentID, Name: name, AdminToken: adminToken, ShareToken: shareToken, ExistingInstances: existing}
}

type InstanceCreated struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Cwd        string `json:"cwd"`
}

func NewInstanceCreated(instanceID, cwd string) InstanceCreated {
	return InstanceCreated{Type: TypeInstanceCreated, InstanceID: instanceID, Cwd: cwd}
}

type InstanceClosed struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

func NewInstanceClosed(instanceID string) InstanceClosed {
	return InstanceClosed{Type: TypeInstanceClosed, InstanceID: instanceID}
}

type PTYOutput struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	DataB64    string `json:"data"`
}

func NewPTYOutput(instanceID, dataB64 string) PTYOutput {
	return PTYOutput{Type: TypePTYOutput, InstanceID: instanceID, DataB64: dataB64}
}

type Heartbeat struct {
	Type string `json:"type"`
}

func NewHeartbeat() Heartbeat { return Heartbeat{Type: TypeHeartbeat} }

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorMsg { return ErrorMsg{Type: TypeError, Message: message} }

// --- Server -> Agent ---

type Registered struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewRegistered(message string) Registered { return Registered{Type: TypeRegistered, Message: message} }

type CreateInstance struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Cwd        string `json:"cwd"`
}

func NewCreateInstance(instanceID, cwd string) CreateInstance {
	return CreateInstance{Type: TypeCreateInstance, InstanceID: instanceID, Cwd: cwd}
}

type CloseInstance struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

func NewCloseInstance(instanceID string) CloseInstance {
	return CloseInstance{Type: TypeCloseInstance, InstanceID: instanceID}
}

type PTYInput struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	DataB64    string `json:"data"`
}

func NewPTYInput(instanceID, dataB64 string) PTYInput {
	return PTYInput{Type: TypePTYInput, InstanceID: instanceID, DataB64: dataB64}
}

type Resize struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
}

func NewResize(instanceID string, cols, rows uint16) Resize {
	return Resize{Type: TypeResize, InstanceID: instanceID, Cols: cols, Rows: rows}
}

type Ping struct {
	Type string `json:"type"`
}

func NewPing() Ping { return Ping{Type: TypePing} }

// --- User -> Server ---

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type CreateInstanceReq struct {
	Type string `json:"type"`
	Cwd  string `json:"cwd"`
}

type CloseInstanceReq struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

type Attach struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

type Detach struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

type PTYInputReq struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	DataB64    string `json:"data"`
}

type ResizeReq struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
}

type ListInstances struct {
	Type string `json:"type"`
}

type GetAdminStats struct {
	Type string `json:"type"`
}

type ForceDisconnectAgent struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type ForceCloseInstance struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

type DeleteAgent struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type SelectWorkingAgent struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type ClearWorkingAgent struct {
	Type string `json:"type"`
}

type ListAgentInstances struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type GetAllTags struct {
	Type string `json:"type"`
}

type GetAgentTags struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type AddAgentTag struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Tag     string `json:"tag"`
}

type RemoveAgentTag struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Tag     string `json:"tag"`
}

type GetAuditLogs struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// --- Server -> User ---

type AuthResult struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Role      string `json:"role,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

type InstanceSummary struct {
	ID                 string `json:"id"`
	Cwd                string `json:"cwd"`
	Status             string `json:"status"`
	AttachedUserCount  int    `json:"attached_user_count"`
}

type InstanceList struct {
	Type      string            `json:"type"`
	Instances []InstanceSummary `json:"instances"`
}

type InstanceCreatedNotice struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Cwd        string `json:"cwd"`
}

type InstanceClosedNotice struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

type PTYOutputNotice struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	DataB64    string `json:"data"`
}

type UserJoined struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	UserCount  int    `json:"user_count"`
}

type UserLeft struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	UserCount  int    `json:"user_count"`
}

type AgentStatusChanged struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Online  bool   `json:"online"`
}

type Pong struct {
	Type string `json:"type"`
}

type AgentInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	ConnectedAt   string `json:"connected_at,omitempty"`
	InstanceCount int    `json:"instance_count"`
	UserCount     int    `json:"user_count"`
}

type GlobalStats struct {
	TotalAgents      int `json:"total_agents"`
	OnlineAgents     int `json:"online_agents"`
	TotalInstances   int `json:"total_instances"`
	RunningInstances int `json:"running_instances"`
	TotalUsers       int `json:"total_users"`
}

type AdminStats struct {
	Type    string      `json:"type"`
	Agents  []AgentInfo `json:"agents"`
	Global  GlobalStats `json:"global"`
}

type WorkingAgentSelected struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

type AllTags struct {
	Type string   `json:"type"`
	Tags []string `json:"tags"`
}

type AgentTagsResp struct {
	Type    string   `json:"type"`
	AgentID string   `json:"agent_id"`
	Tags    []string `json:"tags"`
}

type AuditLogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	UserRole  string `json:"user_role"`
	AgentID   string `json:"agent_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	ClientIP  string `json:"client_ip"`
	Success   bool   `json:"success"`
	Details   string `json:"details,omitempty"`
}

type AuditLogs struct {
	Type    string          `json:"type"`
	Records []AuditLogEntry `json:"records"`
	Total   int             `json:"total"`
}

type AgentInstances struct {
	Type      string            `json:"type"`
	AgentID   string            `json:"agent_id"`
	Instances []InstanceSummary `json:"instances"`
}
