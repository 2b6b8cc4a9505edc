package inventory

import (
	"fmt"

	"github.com/HerbHall/netmedic/pkg/models"
)

// CredentialSpec is one named credential in configuration. The type field
// selects which of the remaining fields apply.
type CredentialSpec struct {
	Type string `mapstructure:"type"` // "snmp_v2c", "snmp_v3", "ssh"

	// SNMP v2c.
	Community string `mapstructure:"community"`

	// SNMP v3.
	AuthProtocol      string `mapstructure:"auth_protocol"`
	AuthPassphrase    string `mapstructure:"auth_passphrase"`
	PrivacyProtocol   string `mapstructure:"privacy_protocol"`
	PrivacyPassphrase string `mapstructure:"privacy_passphrase"`
	SecurityLevel     string `mapstructure:"security_level"`

	// Shared by SNMPv3 and SSH.
	Username string `mapstructure:"username"`

	// SSH.
	Password      string `mapstructure:"password"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
	Port          int    `mapstructure:"port"`
}

// Config is the inventory module's configuration section: the device
// list, the named credential table, and the per-device-type command
// allow-list used for SSH checks and remediation.
type Config struct {
	Devices     []models.Device           `mapstructure:"devices"`
	Credentials map[string]CredentialSpec `mapstructure:"credentials"`

	// Commands maps device type -> command name -> command line.
	// The "generic" entry is the fallback for types without their own set.
	Commands map[string]map[string]string `mapstructure:"commands"`
}

// Validate rejects configurations the engine cannot run with: duplicate
// device IDs, devices without an address, checks referencing credentials
// or commands that do not exist.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("device %d has no id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Address == "" {
			return fmt.Errorf("device %q has no address", d.ID)
		}
		if d.Type == "" {
			d.Type = models.DeviceGeneric
		}

		if d.SNMPCredential != "" {
			if err := c.checkCredential(d.SNMPCredential, "snmp"); err != nil {
				return fmt.Errorf("device %q: %w", d.ID, err)
			}
		}
		if d.SSHCredential != "" {
			if err := c.checkCredential(d.SSHCredential, "ssh"); err != nil {
				return fmt.Errorf("device %q: %w", d.ID, err)
			}
		}

		for _, chk := range d.Checks {
			switch chk.Kind {
			case models.KindPing, models.KindTraceroute:
			case models.KindSNMP:
				if d.SNMPCredential == "" {
					return fmt.Errorf("device %q has an snmp check but no snmp_credential", d.ID)
				}
			case models.KindSSH:
				if d.SSHCredential == "" {
					return fmt.Errorf("device %q has an ssh check but no ssh_credential", d.ID)
				}
				if chk.Command == "" {
					return fmt.Errorf("device %q has an ssh check with no command", d.ID)
				}
				if _, err := resolveCommand(c.Commands, d.Type, chk.Command); err != nil {
					return fmt.Errorf("device %q: %w", d.ID, err)
				}
			default:
				return fmt.Errorf("device %q has a check with unknown kind %q", d.ID, chk.Kind)
			}
			if chk.Interval <= 0 {
				return fmt.Errorf("device %q has a %s check with no interval", d.ID, chk.Kind)
			}
		}
	}
	return nil
}

func (c *Config) checkCredential(ref, want string) error {
	spec, ok := c.Credentials[ref]
	if !ok {
		return fmt.Errorf("unknown credential %q", ref)
	}
	switch want {
	case "snmp":
		if spec.Type != "snmp_v2c" && spec.Type != "snmp_v3" {
			return fmt.Errorf("credential %q has type %q, want snmp_v2c or snmp_v3", ref, spec.Type)
		}
	case "ssh":
		if spec.Type != "ssh" {
			return fmt.Errorf("credential %q has type %q, want ssh", ref, spec.Type)
		}
	}
	return nil
}

// resolveCommand looks up a command name in the allow-list for the given
// device type, falling back to the generic set. Only named, pre-declared
// command lines ever reach a device.
func resolveCommand(commands map[string]map[string]string, devType models.DeviceType, name string) (string, error) {
	if set, ok := commands[string(devType)]; ok {
		if line, ok := set[name]; ok {
			return line, nil
		}
	}
	if set, ok := commands[string(models.DeviceGeneric)]; ok {
		if line, ok := set[name]; ok {
			return line, nil
		}
	}
	return "", fmt.Errorf("command %q is not in the allow-list for device type %q", name, devType)
}
