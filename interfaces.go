package main

// streamEngine is the audio half of the triad as seen by the controller.
// Defining it here lets App be tested without PortAudio.
type streamEngine interface {
	Start() error
	Stop()
	Outbound() <-chan []byte
	Inbound() chan<- []byte
}

// streamSession is the network half as seen by the controller.
type streamSession interface {
	run(stop <-chan struct{}) error
	setTap(frameSink)
}

// Compile-time checks that the real implementations satisfy the seams.
var (
	_ streamEngine  = (*AudioEngine)(nil)
	_ streamSession = (*Session)(nil)
)
