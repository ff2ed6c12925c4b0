// Package controller drives a CNC controller board over a transport.
//
// A Controller owns one session per connection. Each session runs a single I/O loop that
// owns the transport, the codec and the stream manager: every iteration it reads and
// decodes controller output, writes queued real-time commands, serves queued requests and
// finally writes every command that fits the receive buffer. Public methods hand closures
// to the loop and wait for the reply, so no lock protects the streaming state.
//
// Events are published through an event.Registry on the I/O goroutine. A listener must
// not call blocking Controller methods synchronously; wrap it with event.NewBuffered.
//
// Example Usage:
//
//	ctrl, err := controller.New(controller.WithPollInterval(250 * time.Millisecond))
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	ctrl.RegisterListener(func(ev event.Event) {
//	    if done, ok := ev.(event.StreamingComplete); ok {
//	        fmt.Println("job finished", done.JobID)
//	    }
//	})
//
//	cfg, _ := transport.NewSerialConfig("/dev/ttyUSB0")
//	if err := ctrl.Connect(ctx, cfg); err != nil {
//	    return err
//	}
//	jobID, err := ctrl.StartStream(lines, stream.StopOnError)
package controller
