package domain

import "time"

// AccountStatus is the lifecycle state of an Account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusExpired  AccountStatus = "expired"
	StatusError    AccountStatus = "error"
)

// Account is a single credential bag bound to exactly one Provider.
// Counters are mutated by the forwarder on each completed request; status
// may be demoted to StatusError by the load balancer's failure policy but
// is never silently promoted back without a successful validation.
type Account struct {
	ID           string            `yaml:"id" json:"id"`
	ProviderID   string            `yaml:"provider_id" json:"provider_id"`
	Name         string            `yaml:"name" json:"name"`
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Status       AccountStatus     `yaml:"status" json:"status"`
	Credentials  map[string]string `yaml:"credentials" json:"-"`
	DailyLimit   int64             `yaml:"daily_limit" json:"daily_limit,omitempty"`
	RequestCount int64             `yaml:"-" json:"request_count"`
	TodayUsed    int64             `yaml:"-" json:"today_used"`
	LastUsed     time.Time         `yaml:"-" json:"last_used,omitempty"`
	ErrorMessage string            `yaml:"-" json:"error_message,omitempty"`
}

// Selectable reports whether an Account may be handed to the balancer as a
// candidate, per the invariants in spec §3: enabled, active, and under its
// daily limit (when one is set). It does not check the failure window —
// that is the balancer's concern, since it depends on cross-account state.
func (a *Account) Selectable() bool {
	if !a.Enabled || a.Status != StatusActive {
		return false
	}
	if a.DailyLimit > 0 && a.TodayUsed >= a.DailyLimit {
		return false
	}
	return true
}

// Clone returns a deep-enough copy for safe concurrent reads: the
// Credentials map is copied so a caller can't mutate the stored account
// through an aliased map.
func (a *Account) Clone() *Account {
	cp := *a
	if a.Credentials != nil {
		cp.Credentials = make(map[string]string, len(a.Credentials))
		for k, v := range a.Credentials {
			cp.Credentials[k] = v
		}
	}
	return &cp
}
