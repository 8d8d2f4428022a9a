// Command sondealert watches radiosonde telemetry and notifies when a sonde
// matches one of the configured alert criteria.
package main

func main() {
	Execute()
}
