// Package process supervises a long-running helper subprocess.
//
// scanlink uses it to hold the RFCOMM link of a scanner in SPP mode open:
// `rfcomm connect` creates the tty the serial capture driver reads and
// exits when the link drops. The Supervisor restarts the helper with
// exponential backoff, kills it when its health check keeps failing, and
// stops the whole process group on shutdown.
package process
