package device

import "sync"

// hostStream is a FIFO command queue backed by a single goroutine, simulating a device
// stream's ordering and synchronize-join semantics (spec §5: "operations issued to a stream
// execute in FIFO order").
type hostStream struct {
	deviceID int
	tasks    chan func()
	closeOne sync.Once
}

func newHostStream(deviceID int) *hostStream {
	s := &hostStream{deviceID: deviceID, tasks: make(chan func(), 256)}
	go s.loop()
	return s
}

func (s *hostStream) loop() {
	for fn := range s.tasks {
		fn()
	}
}

func (s *hostStream) Launch(fn func()) { s.tasks <- fn }

func (s *hostStream) Synchronize() {
	done := make(chan struct{})
	s.tasks <- func() { close(done) }
	<-done
}

func (s *hostStream) Close() {
	s.closeOne.Do(func() { close(s.tasks) })
}
