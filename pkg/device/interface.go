package device

// Device defines the interface for sweep-capable instruments (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Lines() <-chan string
	StartSweep(numDUTs int) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
