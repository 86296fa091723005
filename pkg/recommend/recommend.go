// Package recommend maps failed commands to canned remediation hints.
// Categorization is keyword based; output-specific overrides take
// precedence over the category text.
package recommend

import "strings"

// maxEntries caps the hints attached to a single failed command.
const maxEntries = 3

// override matches a substring of the command's stderr/stdout and
// contributes a targeted hint ahead of the category hints.
type override struct {
	needle string
	hint   string
}

// overrides are checked against stderr first, then stdout, in order.
var overrides = []override{
	{"permission denied", "Re-run the check with elevated privileges, or verify the configured elevated credential can sudo without a TTY."},
	{"command not found", "Install the missing command's package on the target host, or adjust the check to use an available tool."},
	{"connection refused", "Verify the target service is running and listening on the expected port, and that no firewall rule blocks it."},
	{"no such file or directory", "Verify the file path referenced by the check exists on the target host."},
	{"inactive", "Start the service with 'systemctl start <unit>' and enable it with 'systemctl enable <unit>' if it should survive reboots."},
	{"dead", "Inspect the unit's state with 'systemctl status <unit>' and review its journal for the failure cause."},
}

// category groups commands by keyword and carries its canned hints.
type category struct {
	name     string
	keywords []string
	hints    []string
}

// categories are evaluated in order; the first keyword match wins.
var categories = []category{
	{
		name:     "system-info",
		keywords: []string{"uname", "hostname", "uptime", "os-release", "lsb_release"},
		hints: []string{
			"Confirm the host runs the OS release the checklist expects.",
			"Compare the reported kernel/OS version against the reference value and plan an upgrade if it lags.",
		},
	},
	{
		name:     "filesystem",
		keywords: []string{"df", "du ", "mount", "lsblk", "fstab", "xfs_", "tune2fs"},
		hints: []string{
			"Free disk space by rotating logs or removing unused data, or grow the filesystem.",
			"Verify the expected filesystems are mounted with the options recorded in /etc/fstab.",
			"Check 'dmesg' for I/O errors if usage numbers look inconsistent.",
		},
	},
	{
		name:     "network",
		keywords: []string{"ip ", "ip a", "ss ", "netstat", "ping", "firewall", "nmcli", "route", "resolv"},
		hints: []string{
			"Verify interface configuration and link state with 'ip addr' and 'ip link'.",
			"Check firewall rules ('firewall-cmd --list-all' or 'nft list ruleset') for the expected openings.",
			"Confirm DNS resolution against the nameservers in /etc/resolv.conf.",
		},
	},
	{
		name:     "process-service",
		keywords: []string{"systemctl", "service ", "ps ", "pgrep", "pidof"},
		hints: []string{
			"Inspect the unit with 'systemctl status <unit>' and its journal with 'journalctl -u <unit>'.",
			"Confirm the unit is enabled so it starts at boot.",
		},
	},
	{
		name:     "package-manager",
		keywords: []string{"yum", "dnf", "apt", "rpm", "dpkg", "subscription-manager"},
		hints: []string{
			"Verify the host can reach its package repositories and that subscriptions/entitlements are valid.",
			"Run the package manager manually to inspect the full error output.",
			"Clear the package manager cache and retry if metadata looks stale.",
		},
	},
	{
		name:     "security",
		keywords: []string{"sshd", "selinux", "getenforce", "passwd", "sudoers", "faillock", "auditctl"},
		hints: []string{
			"Review the security setting against your hardening baseline before changing it.",
			"Check recent changes in /etc/ssh/sshd_config, /etc/sudoers and SELinux policy.",
		},
	},
	{
		name:     "logs",
		keywords: []string{"journalctl", "/var/log", "logrotate", "rsyslog", "dmesg"},
		hints: []string{
			"Confirm the logging daemon is running and log rotation is configured.",
			"Search the journal around the failure timestamp for correlated errors.",
		},
	},
	{
		name:     "hardware",
		keywords: []string{"lscpu", "free", "dmidecode", "smartctl", "lspci", "meminfo"},
		hints: []string{
			"Ensure the inspection tool is installed and the host exposes the hardware information.",
			"Cross-check reported capacity against the sizing the checklist expects.",
		},
	},
}

// genericHints apply when no category matches.
var genericHints = []string{
	"Run the command manually on the host and inspect its full output.",
	"Compare the output against the reference value; adjust either the host or the check.",
}

// Recommend returns up to 3 remediation hints for a failed command,
// output-specific overrides first.
func Recommend(command, stdout, stderr string) []string {
	var hints []string

	haystack := strings.ToLower(stderr) + "\n" + strings.ToLower(stdout)
	for _, o := range overrides {
		if strings.Contains(haystack, o.needle) {
			hints = append(hints, o.hint)
			if len(hints) == maxEntries {
				return hints
			}
		}
	}

	for _, hint := range categorize(command) {
		hints = append(hints, hint)
		if len(hints) == maxEntries {
			break
		}
	}
	return hints
}

// Category names the remediation category a command falls into; used by
// reports and tests.
func Category(command string) string {
	lower := strings.ToLower(command)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name
			}
		}
	}
	return "generic"
}

func categorize(command string) []string {
	lower := strings.ToLower(command)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.hints
			}
		}
	}
	return genericHints
}
