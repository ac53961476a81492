// Package auth manages broker credentials for devcontrol.
//
// Devices and the control plane itself authenticate to the MQTT broker with
// a username and a random secret. Only a salted hash of the secret is
// stored, in the registry's auth table, where the broker's auth plugin
// reads it back.
//
// Two hash schemes are available:
//   - sha256: hex(sha256(salt || secret)), the format the broker plugin
//     verifies. This is the default.
//   - argon2id: a PHC string (OWASP 2025 parameters) for deployments whose
//     broker plugin understands it.
//
// EnsureSuperuser bootstraps the control plane's own identity on startup.
package auth
