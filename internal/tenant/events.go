package tenant

// Application domain events consumed by the audit trail.

type Created struct {
	Name string
	Slug string
}

func (Created) EventType() string { return "application.created" }

type SettingsUpdated struct {
	Settings SecuritySettings
}

func (SettingsUpdated) EventType() string { return "application.settings_updated" }

type EmailSettingsUpdated struct{}

func (EmailSettingsUpdated) EventType() string { return "application.email_settings_updated" }

type KeysRegenerated struct {
	PublicKey string
}

func (KeysRegenerated) EventType() string { return "application.keys_regenerated" }

type JWTSecretRegenerated struct{}

func (JWTSecretRegenerated) EventType() string { return "application.jwt_secret_regenerated" }

type ApplicationDeactivated struct{}

func (ApplicationDeactivated) EventType() string { return "application.deactivated" }

type ApplicationActivated struct{}

func (ApplicationActivated) EventType() string { return "application.activated" }
