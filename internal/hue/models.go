package hue

// =============================================================================
// V2 API Types (CLIP API)
// Entertainment streaming requires the V2 API; the V1 groups API has no
// notion of entertainment configurations or channels.
// =============================================================================

// ResourceRef is a typed reference to another V2 resource.
type ResourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

// EntertainmentConfiguration represents an entertainment area (V2 API)
type EntertainmentConfiguration struct {
	ID       string `json:"id"`
	IDV1     string `json:"id_v1,omitempty"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	ConfigurationType string    `json:"configuration_type"` // "screen", "monitor", ...
	Status            string    `json:"status"`             // "active" or "inactive"
	ActiveStreamer    *struct { // set while a session owns the area
		RID   string `json:"rid"`
		RType string `json:"rtype"`
	} `json:"active_streamer,omitempty"`
	Channels      []EntertainmentChannel `json:"channels"`
	LightServices []ResourceRef          `json:"light_services"`
}

// EntertainmentChannel is one streamable channel inside an area
type EntertainmentChannel struct {
	ChannelID uint8 `json:"channel_id"`
	Position  struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"position"`
	Members []struct {
		Service ResourceRef `json:"service"`
		Index   int         `json:"index"`
	} `json:"members"`
}

// Light represents a Hue light (V2 API), reduced to what setup output needs
type Light struct {
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Owner ResourceRef `json:"owner"`
}

// BridgeConfig is the unauthenticated-adjacent V1 config blob, used after
// pairing to fill in bridge identity.
type BridgeConfig struct {
	Name      string `json:"name"`
	BridgeID  string `json:"bridgeid"`
	SWVersion string `json:"swversion"`
}
