package constants

const (
	// IDRandomBytes is the number of random bytes in generated entity IDs.
	IDRandomBytes = 16

	// DeviceCookieName carries the trusted-device bypass token.
	DeviceCookieName = "hearth_device"

	// OAuthStateCookieName binds the OAuth state nonce to the browser.
	OAuthStateCookieName = "hearth_oauth_state"
)
