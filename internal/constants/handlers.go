package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for state event channels
	EventChannelBuffer = 100
)
