// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

// Request parameters.

type idParams struct {
	ID string `json:"id"`
}

type clientVolumeParams struct {
	ID     string `json:"id"`
	Volume Volume `json:"volume"`
}

type clientLatencyParams struct {
	ID      string `json:"id"`
	Latency int    `json:"latency"`
}

type nameParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type groupMuteParams struct {
	ID   string `json:"id"`
	Mute bool   `json:"mute"`
}

type groupStreamParams struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
}

type groupClientsParams struct {
	ID      string   `json:"id"`
	Clients []string `json:"clients"`
}

type addStreamParams struct {
	StreamURI string `json:"streamUri"`
}

type streamControlParams struct {
	ID      string                 `json:"id"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type streamPropertyParams struct {
	ID       string      `json:"id"`
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
}

// Response results.

type clientResult struct {
	Client SnapClient `json:"client"`
}

type volumeResult struct {
	Volume Volume `json:"volume"`
}

type latencyResult struct {
	Latency int `json:"latency"`
}

type nameResult struct {
	Name string `json:"name"`
}

type groupResult struct {
	Group Group `json:"group"`
}

type muteResult struct {
	Mute bool `json:"mute"`
}

type streamIDResult struct {
	StreamID string `json:"stream_id"`
}

type serverResult struct {
	Server Server `json:"server"`
}

// Notification payloads.

// ClientConnection is sent when a client connects or disconnects.
type ClientConnection struct {
	ID     string     `json:"id"`
	Client SnapClient `json:"client"`
}

// ClientVolumeChange is sent when a client's volume changes.
type ClientVolumeChange struct {
	ID     string `json:"id"`
	Volume Volume `json:"volume"`
}

// ClientLatencyChange is sent when a client's latency changes.
type ClientLatencyChange struct {
	ID      string `json:"id"`
	Latency int    `json:"latency"`
}

// NameChange is sent when a client or group is renamed.
type NameChange struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GroupMuteChange is sent when a group is muted or unmuted.
type GroupMuteChange struct {
	ID   string `json:"id"`
	Mute bool   `json:"mute"`
}

// GroupStreamChange is sent when a group switches stream.
type GroupStreamChange struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
}

// StreamPropertiesChange is sent when a stream's properties change.
type StreamPropertiesChange struct {
	ID         string           `json:"id"`
	Properties StreamProperties `json:"properties"`
}

// StreamUpdate is sent when a stream changes.
type StreamUpdate struct {
	ID     string `json:"id"`
	Stream Stream `json:"stream"`
}

// ServerUpdate carries the complete server state.
type ServerUpdate struct {
	Server Server `json:"server"`
}

// OnClientConnect subscribes fn to Client.OnConnect.
func (c *Client) OnClientConnect(fn func(ClientConnection)) (unsubscribe func()) {
	return subscribe(c, MethodClientOnConnect, fn)
}

// OnClientDisconnect subscribes fn to Client.OnDisconnect.
func (c *Client) OnClientDisconnect(fn func(ClientConnection)) (unsubscribe func()) {
	return subscribe(c, MethodClientOnDisconnect, fn)
}

// OnClientVolumeChanged subscribes fn to Client.OnVolumeChanged.
func (c *Client) OnClientVolumeChanged(fn func(ClientVolumeChange)) (unsubscribe func()) {
	return subscribe(c, MethodClientOnVolumeChanged, fn)
}

// OnClientLatencyChanged subscribes fn to Client.OnLatencyChanged.
func (c *Client) OnClientLatencyChanged(fn func(ClientLatencyChange)) (unsubscribe func()) {
	return subscribe(c, MethodClientOnLatencyChanged, fn)
}

// OnClientNameChanged subscribes fn to Client.OnNameChanged.
func (c *Client) OnClientNameChanged(fn func(NameChange)) (unsubscribe func()) {
	return subscribe(c, MethodClientOnNameChanged, fn)
}

// OnGroupMute subscribes fn to Group.OnMute.
func (c *Client) OnGroupMute(fn func(GroupMuteChange)) (unsubscribe func()) {
	return subscribe(c, MethodGroupOnMute, fn)
}

// OnGroupStreamChanged subscribes fn to Group.OnStreamChanged.
func (c *Client) OnGroupStreamChanged(fn func(GroupStreamChange)) (unsubscribe func()) {
	return subscribe(c, MethodGroupOnStreamChanged, fn)
}

// OnGroupNameChanged subscribes fn to Group.OnNameChanged.
func (c *Client) OnGroupNameChanged(fn func(NameChange)) (unsubscribe func()) {
	return subscribe(c, MethodGroupOnNameChanged, fn)
}

// OnStreamProperties subscribes fn to Stream.OnProperties.
func (c *Client) OnStreamProperties(fn func(StreamPropertiesChange)) (unsubscribe func()) {
	return subscribe(c, MethodStreamOnProperties, fn)
}

// OnStreamUpdate subscribes fn to Stream.OnUpdate.
func (c *Client) OnStreamUpdate(fn func(StreamUpdate)) (unsubscribe func()) {
	return subscribe(c, MethodStreamOnUpdate, fn)
}

// OnServerUpdate subscribes fn to Server.OnUpdate.
func (c *Client) OnServerUpdate(fn func(ServerUpdate)) (unsubscribe func()) {
	return subscribe(c, MethodServerOnUpdate, fn)
}
