// --- File: pkg/relay/relay.go ---
package relay

// ServiceDependencies holds the external collaborators the relay needs to operate.
// This struct is used for dependency injection.
type ServiceDependencies struct {
	// --- Identity ---
	Verifier CredentialVerifier

	// --- Storage & Caches ---
	Profiles ProfileStore

	// --- Notifiers ---
	PushNotifier PushNotifier
}
