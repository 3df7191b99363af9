// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

// Host describes the machine a client or server runs on.
type Host struct {
	Arch string `json:"arch"`
	IP   string `json:"ip"`
	MAC  string `json:"mac"`
	Name string `json:"name"`
	OS   string `json:"os"`
}

// Volume is a client's volume setting.
type Volume struct {
	Muted   bool `json:"muted"`
	Percent int  `json:"percent"`
}

// ClientConfig is the server-side configuration of a client.
type ClientConfig struct {
	Instance int    `json:"instance"`
	Latency  int    `json:"latency"`
	Name     string `json:"name"`
	Volume   Volume `json:"volume"`
}

// LastSeen is when a client was last connected.
type LastSeen struct {
	Sec  int64 `json:"sec"`
	Usec int   `json:"usec"`
}

// SnapClientInfo identifies the client software.
type SnapClientInfo struct {
	Name            string `json:"name"`
	ProtocolVersion int    `json:"protocolVersion"`
	Version         string `json:"version"`
}

// SnapClient is a playback client known to the server.
type SnapClient struct {
	Config     ClientConfig   `json:"config"`
	Connected  bool           `json:"connected"`
	Host       Host           `json:"host"`
	ID         string         `json:"id"`
	LastSeen   LastSeen       `json:"lastSeen"`
	SnapClient SnapClientInfo `json:"snapclient"`
}

// Group is a set of clients playing the same stream.
type Group struct {
	ID       string       `json:"id"`
	StreamID string       `json:"stream_id"`
	Clients  []SnapClient `json:"clients"`
	Name     string       `json:"name"`
	Muted    bool         `json:"muted"`
}

// SnapServerInfo identifies the server software.
type SnapServerInfo struct {
	ProtocolVersion        int    `json:"protocolVersion"`
	ControlProtocolVersion int    `json:"controlProtocolVersion"`
	Name                   string `json:"name"`
	Version                string `json:"version"`
}

// ServerInfo describes the server host and software.
type ServerInfo struct {
	Host       Host           `json:"host"`
	SnapServer SnapServerInfo `json:"snapserver"`
}

// Server is the full server state.
type Server struct {
	Server  ServerInfo `json:"server"`
	Groups  []Group    `json:"groups"`
	Streams []Stream   `json:"streams"`
}

// Group returns the group with the given id.
func (s Server) Group(id string) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// Client returns the client with the given id, searching every group.
func (s Server) Client(id string) (SnapClient, bool) {
	for _, g := range s.Groups {
		for _, c := range g.Clients {
			if c.ID == id {
				return c, true
			}
		}
	}
	return SnapClient{}, false
}

// Stream returns the stream with the given id.
func (s Server) Stream(id string) (Stream, bool) {
	for _, st := range s.Streams {
		if st.ID == id {
			return st, true
		}
	}
	return Stream{}, false
}

// RPCVersion is the control protocol version.
type RPCVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// StreamQuery holds the query part of a stream URI.
type StreamQuery struct {
	ChunkMs      string `json:"chunk_ms"`
	Codec        string `json:"codec"`
	Name         string `json:"name"`
	SampleFormat string `json:"sampleformat"`
}

// StreamURI is a parsed stream source URI.
type StreamURI struct {
	Fragment string      `json:"fragment"`
	Host     string      `json:"host"`
	Path     string      `json:"path"`
	Query    StreamQuery `json:"query"`
	Raw      string      `json:"raw"`
	Scheme   string      `json:"scheme"`
}

// ArtData is inline album art.
type ArtData struct {
	Data      string `json:"data"`
	Extension string `json:"extension"`
}

// StreamMetadata describes the current track.
type StreamMetadata struct {
	Album   string   `json:"album,omitempty"`
	Artist  []string `json:"artist,omitempty"`
	Title   string   `json:"title,omitempty"`
	ArtURL  string   `json:"artUrl,omitempty"`
	ArtData *ArtData `json:"artData,omitempty"`
}

// StreamProperties are the playback capabilities and state of a stream.
type StreamProperties struct {
	CanControl     bool            `json:"canControl"`
	CanGoNext      bool            `json:"canGoNext"`
	CanGoPrevious  bool            `json:"canGoPrevious"`
	CanPause       bool            `json:"canPause"`
	CanPlay        bool            `json:"canPlay"`
	CanSeek        bool            `json:"canSeek"`
	PlaybackStatus string          `json:"playbackStatus,omitempty"`
	LoopStatus     string          `json:"loopStatus,omitempty"`
	Shuffle        *bool           `json:"shuffle,omitempty"`
	Volume         *int            `json:"volume,omitempty"`
	Mute           *bool           `json:"mute,omitempty"`
	Rate           *float64        `json:"rate,omitempty"`
	Position       *float64        `json:"position,omitempty"`
	Metadata       *StreamMetadata `json:"metadata,omitempty"`
}

// Stream is an audio source on the server.
type Stream struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Properties *StreamProperties `json:"properties,omitempty"`
	URI        StreamURI         `json:"uri"`
}
