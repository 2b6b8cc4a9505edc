package rules

import "time"

// RulesConfig tunes the rules engine module.
type RulesConfig struct {
	// RulesFile is the path to the YAML rule definitions.
	RulesFile string `mapstructure:"rules_file"`

	// Watch enables hot-reload of the rules file.
	Watch bool `mapstructure:"watch"`

	// SweepInterval controls how often expired cooldown entries are
	// removed from the suppression map.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func DefaultConfig() RulesConfig {
	return RulesConfig{
		RulesFile:     "rules.yaml",
		Watch:         true,
		SweepInterval: 5 * time.Minute,
	}
}
