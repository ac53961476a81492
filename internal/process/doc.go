// Package process supervises long-running child processes.
//
// devcontrol uses it to run a local mosquitto broker when broker.managed is
// set. A Manager starts the child in its own process group, streams its
// output line by line to a callback, restarts it with exponential backoff
// after unexpected exits and stops it with SIGTERM followed by SIGKILL.
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "mosquitto",
//	    Binary:           "/usr/sbin/mosquitto",
//	    Args:             []string{"-c", "/var/lib/devcontrol/mosquitto.conf"},
//	    RestartOnFailure: true,
//	    OnOutput:         func(stream, line string) { lines <- line },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
