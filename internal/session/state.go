package session

// ConnState is the lifecycle state of the single device link
type ConnState int

const (
	Idle ConnState = iota
	Connecting
	ServiceDiscovery
	Ready
	Disconnecting
	Failed
)

var connStateNames = map[ConnState]string{
	Idle:             "idle",
	Connecting:       "connecting",
	ServiceDiscovery: "service_discovery",
	Ready:            "ready",
	Disconnecting:    "disconnecting",
	Failed:           "failed",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// canConnect reports whether a new connect sequence may start from s
func (s ConnState) canConnect() bool {
	return s == Idle || s == Failed
}

// Status texts
const (
	StatusScanning          = "Continuous scanning..."
	StatusScanStopped       = "Scanning stopped"
	StatusConnecting        = "Connecting..."
	StatusConnectionFailed  = "Connection failed, scanning continues..."
	StatusDisconnected      = "Disconnected, scanning continues..."
	StatusShuttingDown      = "Shutting down..."
	statusConnectedTemplate = "Connected to %s (%s)"
)
