package model

// FallbackConfig is the single system-wide ordered anchor list.
type FallbackConfig struct {
	AnchorOrder      []string `json:"anchor_order"`
	MaxRetries       uint32   `json:"max_retries"`
	FailureThreshold uint32   `json:"failure_threshold"`
}

// Validate rejects an empty order, duplicate or malformed anchors and a zero
// threshold.
func (c *FallbackConfig) Validate() error {
	if len(c.AnchorOrder) == 0 {
		return Errorf(ErrInvalidConfig, "anchor order is empty")
	}
	if c.FailureThreshold < 1 {
		return Errorf(ErrInvalidConfig, "failure threshold must be at least 1")
	}
	seen := make(map[string]bool, len(c.AnchorOrder))
	for _, a := range c.AnchorOrder {
		if err := ValidateIdentity(a); err != nil {
			return Errorf(ErrInvalidConfig, "anchor %q: %s", a, err)
		}
		if seen[a] {
			return Errorf(ErrInvalidConfig, "duplicate anchor %s", a)
		}
		seen[a] = true
	}
	return nil
}

// AnchorFailureState tracks consecutive failures for one anchor.
type AnchorFailureState struct {
	Anchor        string `json:"anchor"`
	FailureCount  uint32 `json:"failure_count"`
	LastFailureAt int64  `json:"last_failure_at"`
	IsDown        bool   `json:"is_down"`
}
