// Package broker runs a local mosquitto broker for devcontrol.
//
// When broker.managed is set, devcontrol renders mosquitto.conf from the
// service configuration, starts mosquitto under a process.Manager and waits
// until the listener accepts connections. The generated file points the
// broker at the auth plugin, which checks device credentials against the
// devcontrol database and gives the superuser access to every topic.
//
// Everything mosquitto writes is available line by line from Lines, which
// the control loop copies into the rotating broker log.
//
// Example configuration (in config.yaml):
//
//	broker:
//	  managed: true
//	  binary: "/usr/sbin/mosquitto"
//	  config_path: "/var/lib/devcontrol/mosquitto.conf"
//	  auth_plugin: "/usr/lib/devcontrol/auth-plugin.so"
//	  cert_file: "/etc/devcontrol/server.crt"
//	  key_file: "/etc/devcontrol/server.key"
//	  log_path: "/var/log/devcontrol/mosquitto.log"
package broker
