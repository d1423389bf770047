// Package serialdriver implements capture.Driver for barcode scanners in
// Serial Port Profile mode, bound to an RFCOMM tty (for example with
// "rfcomm bind 0 <address>").
//
// Each CR or LF terminated line read from the port is one scan. The port
// is polled while the session is open, so a scanner that powers off and
// comes back is detached (Gone) and re-attached (Available) without
// restarting the session.
package serialdriver
