// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"context"
	"strings"

	"github.com/juju/errors"
)

// Request methods.
const (
	MethodClientGetStatus     = "Client.GetStatus"
	MethodClientSetVolume     = "Client.SetVolume"
	MethodClientSetLatency    = "Client.SetLatency"
	MethodClientSetName       = "Client.SetName"
	MethodGroupGetStatus      = "Group.GetStatus"
	MethodGroupSetMute        = "Group.SetMute"
	MethodGroupSetStream      = "Group.SetStream"
	MethodGroupSetClients     = "Group.SetClients"
	MethodGroupSetName        = "Group.SetName"
	MethodServerGetRPCVersion = "Server.GetRPCVersion"
	MethodServerGetStatus     = "Server.GetStatus"
	MethodServerDeleteClient  = "Server.DeleteClient"
	MethodStreamAddStream     = "Stream.AddStream"
	MethodStreamRemoveStream  = "Stream.RemoveStream"
	MethodStreamControl       = "Stream.Control"
	MethodStreamSetProperty   = "Stream.SetProperty"
)

// Notification methods.
const (
	MethodClientOnConnect        = "Client.OnConnect"
	MethodClientOnDisconnect     = "Client.OnDisconnect"
	MethodClientOnVolumeChanged  = "Client.OnVolumeChanged"
	MethodClientOnLatencyChanged = "Client.OnLatencyChanged"
	MethodClientOnNameChanged    = "Client.OnNameChanged"
	MethodGroupOnMute            = "Group.OnMute"
	MethodGroupOnStreamChanged   = "Group.OnStreamChanged"
	MethodGroupOnNameChanged     = "Group.OnNameChanged"
	MethodStreamOnProperties     = "Stream.OnProperties"
	MethodStreamOnUpdate         = "Stream.OnUpdate"
	MethodServerOnUpdate         = "Server.OnUpdate"
)

// Stream.Control commands.
const (
	StreamCommandPlay        = "play"
	StreamCommandPause       = "pause"
	StreamCommandPlayPause   = "playPause"
	StreamCommandStop        = "stop"
	StreamCommandNext        = "next"
	StreamCommandPrevious    = "previous"
	StreamCommandSeek        = "seek"
	StreamCommandSetPosition = "setPosition"
)

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NotValidf("empty %s id", kind)
	}
	return nil
}

// ClientGetStatus returns one client.
func (c *Client) ClientGetStatus(ctx context.Context, id string) (SnapClient, error) {
	if err := requireID("client", id); err != nil {
		return SnapClient{}, err
	}
	var res clientResult
	if err := c.Call(ctx, MethodClientGetStatus, idParams{ID: id}, &res); err != nil {
		return SnapClient{}, errors.Trace(err)
	}
	return res.Client, nil
}

// ClientSetVolume sets an unmuted volume and returns the applied setting.
func (c *Client) ClientSetVolume(ctx context.Context, id string, percent int) (Volume, error) {
	return c.ClientSetMute(ctx, id, percent, false)
}

// ClientSetMute sets volume and mute together and returns the applied
// setting.
func (c *Client) ClientSetMute(ctx context.Context, id string, percent int, muted bool) (Volume, error) {
	if err := requireID("client", id); err != nil {
		return Volume{}, err
	}
	if percent < 0 || percent > 100 {
		return Volume{}, errors.NotValidf("volume %d%%", percent)
	}
	params := clientVolumeParams{ID: id, Volume: Volume{Muted: muted, Percent: percent}}
	var res volumeResult
	if err := c.Call(ctx, MethodClientSetVolume, params, &res); err != nil {
		return Volume{}, errors.Trace(err)
	}
	return res.Volume, nil
}

// ClientSetLatency sets a client's latency in milliseconds.
func (c *Client) ClientSetLatency(ctx context.Context, id string, latency int) (int, error) {
	if err := requireID("client", id); err != nil {
		return 0, err
	}
	var res latencyResult
	if err := c.Call(ctx, MethodClientSetLatency, clientLatencyParams{ID: id, Latency: latency}, &res); err != nil {
		return 0, errors.Trace(err)
	}
	return res.Latency, nil
}

// ClientSetName renames a client.
func (c *Client) ClientSetName(ctx context.Context, id, name string) (string, error) {
	if err := requireID("client", id); err != nil {
		return "", err
	}
	var res nameResult
	if err := c.Call(ctx, MethodClientSetName, nameParams{ID: id, Name: name}, &res); err != nil {
		return "", errors.Trace(err)
	}
	return res.Name, nil
}

// GroupGetStatus returns one group.
func (c *Client) GroupGetStatus(ctx context.Context, id string) (Group, error) {
	if err := requireID("group", id); err != nil {
		return Group{}, err
	}
	var res groupResult
	if err := c.Call(ctx, MethodGroupGetStatus, idParams{ID: id}, &res); err != nil {
		return Group{}, errors.Trace(err)
	}
	return res.Group, nil
}

// GroupSetMute mutes or unmutes a group.
func (c *Client) GroupSetMute(ctx context.Context, id string, mute bool) (bool, error) {
	if err := requireID("group", id); err != nil {
		return false, err
	}
	var res muteResult
	if err := c.Call(ctx, MethodGroupSetMute, groupMuteParams{ID: id, Mute: mute}, &res); err != nil {
		return false, errors.Trace(err)
	}
	return res.Mute, nil
}

// GroupSetStream assigns a stream to a group.
func (c *Client) GroupSetStream(ctx context.Context, id, streamID string) (string, error) {
	if err := requireID("group", id); err != nil {
		return "", err
	}
	if err := requireID("stream", streamID); err != nil {
		return "", err
	}
	var res streamIDResult
	if err := c.Call(ctx, MethodGroupSetStream, groupStreamParams{ID: id, StreamID: streamID}, &res); err != nil {
		return "", errors.Trace(err)
	}
	return res.StreamID, nil
}

// GroupSetClients replaces a group's members and returns the new server
// state.
func (c *Client) GroupSetClients(ctx context.Context, id string, clients []string) (Server, error) {
	if err := requireID("group", id); err != nil {
		return Server{}, err
	}
	if clients == nil {
		clients = []string{}
	}
	var res serverResult
	if err := c.Call(ctx, MethodGroupSetClients, groupClientsParams{ID: id, Clients: clients}, &res); err != nil {
		return Server{}, errors.Trace(err)
	}
	return res.Server, nil
}

// GroupSetName renames a group.
func (c *Client) GroupSetName(ctx context.Context, id, name string) (string, error) {
	if err := requireID("group", id); err != nil {
		return "", err
	}
	var res nameResult
	if err := c.Call(ctx, MethodGroupSetName, nameParams{ID: id, Name: name}, &res); err != nil {
		return "", errors.Trace(err)
	}
	return res.Name, nil
}

// ServerGetRPCVersion returns the control protocol version.
func (c *Client) ServerGetRPCVersion(ctx context.Context) (RPCVersion, error) {
	var res RPCVersion
	if err := c.Call(ctx, MethodServerGetRPCVersion, nil, &res); err != nil {
		return RPCVersion{}, errors.Trace(err)
	}
	return res, nil
}

// ServerGetStatus returns the complete server state.
func (c *Client) ServerGetStatus(ctx context.Context) (Server, error) {
	var res serverResult
	if err := c.Call(ctx, MethodServerGetStatus, nil, &res); err != nil {
		return Server{}, errors.Trace(err)
	}
	return res.Server, nil
}

// ServerDeleteClient forgets a disconnected client.
func (c *Client) ServerDeleteClient(ctx context.Context, id string) (Server, error) {
	if err := requireID("client", id); err != nil {
		return Server{}, err
	}
	var res serverResult
	if err := c.Call(ctx, MethodServerDeleteClient, idParams{ID: id}, &res); err != nil {
		return Server{}, errors.Trace(err)
	}
	return res.Server, nil
}

// StreamAddStream adds a stream source and returns its id.
func (c *Client) StreamAddStream(ctx context.Context, streamURI string) (string, error) {
	if strings.TrimSpace(streamURI) == "" {
		return "", errors.NotValidf("empty stream URI")
	}
	var res streamIDResult
	if err := c.Call(ctx, MethodStreamAddStream, addStreamParams{StreamURI: streamURI}, &res); err != nil {
		return "", errors.Trace(err)
	}
	return res.StreamID, nil
}

// StreamRemoveStream removes a stream and returns its id.
func (c *Client) StreamRemoveStream(ctx context.Context, id string) (string, error) {
	if err := requireID("stream", id); err != nil {
		return "", err
	}
	var res streamIDResult
	if err := c.Call(ctx, MethodStreamRemoveStream, idParams{ID: id}, &res); err != nil {
		return "", errors.Trace(err)
	}
	return res.StreamID, nil
}

// StreamControl sends a playback command to a stream.
func (c *Client) StreamControl(ctx context.Context, id, command string, params map[string]interface{}) error {
	if err := requireID("stream", id); err != nil {
		return err
	}
	if command == "" {
		return errors.NotValidf("empty stream command")
	}
	p := streamControlParams{ID: id, Command: command, Params: params}
	return errors.Trace(c.Call(ctx, MethodStreamControl, p, nil))
}

// StreamPlay starts playback.
func (c *Client) StreamPlay(ctx context.Context, id string) error {
	return c.StreamControl(ctx, id, StreamCommandPlay, nil)
}

// StreamPause pauses playback.
func (c *Client) StreamPause(ctx context.Context, id string) error {
	return c.StreamControl(ctx, id, StreamCommandPause, nil)
}

// StreamNext skips to the next track.
func (c *Client) StreamNext(ctx context.Context, id string) error {
	return c.StreamControl(ctx, id, StreamCommandNext, nil)
}

// StreamPrevious goes back to the previous track.
func (c *Client) StreamPrevious(ctx context.Context, id string) error {
	return c.StreamControl(ctx, id, StreamCommandPrevious, nil)
}

// StreamSeek moves to an absolute position in seconds.
func (c *Client) StreamSeek(ctx context.Context, id string, position float64) error {
	return c.StreamControl(ctx, id, StreamCommandSetPosition, map[string]interface{}{"position": position})
}

// StreamSeekBy moves by offset seconds from the current position.
func (c *Client) StreamSeekBy(ctx context.Context, id string, offset float64) error {
	return c.StreamControl(ctx, id, StreamCommandSeek, map[string]interface{}{"offset": offset})
}

// StreamSetProperty sets one stream property.
func (c *Client) StreamSetProperty(ctx context.Context, id, property string, value interface{}) error {
	if err := requireID("stream", id); err != nil {
		return err
	}
	if property == "" {
		return errors.NotValidf("empty stream property")
	}
	p := streamPropertyParams{ID: id, Property: property, Value: value}
	return errors.Trace(c.Call(ctx, MethodStreamSetProperty, p, nil))
}

// StreamSetVolume sets the player volume of a stream.
func (c *Client) StreamSetVolume(ctx context.Context, id string, volume int) error {
	return c.StreamSetProperty(ctx, id, "volume", volume)
}

// StreamSetMute mutes or unmutes the player of a stream.
func (c *Client) StreamSetMute(ctx context.Context, id string, mute bool) error {
	return c.StreamSetProperty(ctx, id, "mute", mute)
}

// StreamSetShuffle toggles shuffle.
func (c *Client) StreamSetShuffle(ctx context.Context, id string, shuffle bool) error {
	return c.StreamSetProperty(ctx, id, "shuffle", shuffle)
}

// StreamSetLoopStatus sets the loop mode: "none", "track" or "playlist".
func (c *Client) StreamSetLoopStatus(ctx context.Context, id, status string) error {
	return c.StreamSetProperty(ctx, id, "loopStatus", status)
}

// StreamSetRate sets the playback rate.
func (c *Client) StreamSetRate(ctx context.Context, id string, rate float64) error {
	return c.StreamSetProperty(ctx, id, "rate", rate)
}
