package command

// AppConfig represents the root RxTxApp JSON configuration
type AppConfig struct {
	Interfaces []InterfaceConfig `json:"interfaces"`
	TxSessions []SessionGroup    `json:"tx_sessions"`
	RxSessions []SessionGroup    `json:"rx_sessions"`
}

// InterfaceConfig represents one port bound by the application
type InterfaceConfig struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// SessionGroup represents a set of sessions sharing destination and ports
type SessionGroup struct {
	// IP holds the destination addresses of tx groups, one per port.
	IP []string `json:"dip,omitempty"`
	// SourceIP holds the source addresses of rx groups, one per port.
	SourceIP  []string    `json:"ip,omitempty"`
	Interface []int       `json:"interface"`
	ST20P     []ST20PSpec `json:"st20p"`
}

// ST20PSpec represents a pipeline video session template replicated
// Replicas times
type ST20PSpec struct {
	Replicas        int    `json:"replicas"`
	StartPort       int    `json:"start_port"`
	PayloadType     int    `json:"payload_type"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FPS             string `json:"fps"`
	Interlaced      bool   `json:"interlaced"`
	Device          string `json:"device"`
	Pacing          string `json:"pacing"`
	Packing         string `json:"packing"`
	TransportFormat string `json:"transport_format"`
	InputFormat     string `json:"input_format,omitempty"`
	OutputFormat    string `json:"output_format,omitempty"`
	URL             string `json:"st20p_url,omitempty"`
	Display         *bool  `json:"display,omitempty"`
	MeasureLatency  *bool  `json:"measure_latency,omitempty"`
}
