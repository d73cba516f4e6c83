// Package sdpctrl implements the control-client half of a Software Defined
// Perimeter deployment: a long-lived agent that maintains a mutually
// authenticated TLS session to a central controller, periodically refreshes
// its own TLS client certificate/key and Single Packet Authorization keys,
// and keeps the controller informed that it is alive.
//
// The package does not implement the controller, policy evaluation, firewall
// enforcement, or the wire-level SPA/TLS primitives themselves beyond a
// minimal reference transport under internal/transport; those are narrow
// collaborators the control loop consumes through the Facade interface.
//
// # Running the client
//
//	client, err := sdpctrl.New(sdpctrl.Config{
//	    CtrlAddr: "controller.example.com",
//	    CtrlPort: 4443,
//	    CertFile: "/etc/sdpctrl/client.pem",
//	    KeyFile:  "/etc/sdpctrl/client.key",
//	    PIDFile:  "/var/run/sdpctrl.pid",
//	})
//	if err != nil { log.Fatal(err) }
//	if _, err := client.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package sdpctrl
