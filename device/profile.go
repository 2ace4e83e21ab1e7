package device

import "regexp"

// Profile describes how to drive one CLI flavour, keyed by netmiko device type
type Profile struct {
	DeviceType  string
	SessionPrep []string
	ConfigEnter string
	ConfigExit  string
	// PromptTerminators are the characters a prompt may end with
	PromptTerminators string
}

var profiles = map[string]Profile{
	"cisco_ios": {
		DeviceType:        "cisco_ios",
		SessionPrep:       []string{"terminal length 0", "terminal width 511"},
		ConfigEnter:       "configure terminal",
		ConfigExit:        "end",
		PromptTerminators: "#>",
	},
	"cisco_nxos": {
		DeviceType:        "cisco_nxos",
		SessionPrep:       []string{"terminal length 0", "terminal width 511"},
		ConfigEnter:       "configure terminal",
		ConfigExit:        "end",
		PromptTerminators: "#>",
	},
	"arista_eos": {
		DeviceType:        "arista_eos",
		SessionPrep:       []string{"terminal length 0", "terminal width 32767"},
		ConfigEnter:       "configure terminal",
		ConfigExit:        "end",
		PromptTerminators: "#>",
	},
	"juniper_junos": {
		DeviceType:        "juniper_junos",
		SessionPrep:       []string{"set cli screen-length 0", "set cli screen-width 511"},
		ConfigEnter:       "configure",
		ConfigExit:        "exit configuration-mode",
		PromptTerminators: "#>%",
	},
}

// ProfileFor returns the profile for a netmiko device type. Unknown types get
// the Cisco IOS profile, which most IOS-like CLIs accept.
func ProfileFor(deviceType string) Profile {
	if p, ok := profiles[deviceType]; ok {
		return p
	}
	p := profiles["cisco_ios"]
	p.DeviceType = deviceType
	return p
}

// promptPattern matches a prompt on the last line of output. When base is
// known, config-mode variants like "sw1(config-if)#" also match.
func (p Profile) promptPattern(base string) *regexp.Regexp {
	term := "[" + regexp.QuoteMeta(p.PromptTerminators) + "]"
	if base == "" {
		return regexp.MustCompile(`(?:^|\n)[\w.\-@()/:~\[\]]+` + term + `\s*$`)
	}
	return regexp.MustCompile(`(?:^|\n)` + regexp.QuoteMeta(base) + `[^\n]*` + term + `\s*$`)
}
