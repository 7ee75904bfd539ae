package nginx

import (
	"fmt"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// HashBucketDirective is inserted into the http block for long server names.
const HashBucketDirective = "server_names_hash_bucket_size 64;"

// InstallSiteSteps moves an uploaded site file into place and enables it.
func InstallSiteSteps(uploaded string) []remote.Step {
	available := security.ShellEscape(constants.NginxAvailablePath())
	return []remote.Step{
		{
			Name:       "install site",
			Command:    fmt.Sprintf("mv %s %s && chown root:root %s && chmod 644 %s", security.ShellEscape(uploaded), available, available, available),
			Policy:     remote.MustSucceed,
			Privileged: true,
		},
		{
			Name:       "enable site",
			Command:    fmt.Sprintf("ln -sf %s %s", available, security.ShellEscape(constants.NginxEnabledPath())),
			Policy:     remote.MustSucceed,
			Privileged: true,
		},
	}
}

// HashBucketStep adds HashBucketDirective after "http {" unless an active
// (uncommented) directive already exists.
func HashBucketStep() remote.Step {
	conf := security.ShellEscape(constants.NginxConf)
	return remote.Step{
		Name: "hash bucket size",
		Command: fmt.Sprintf(`grep -Eq '^\s*server_names_hash_bucket_size' %s || sed -i '/^\s*http\s*{/a\    %s' %s`,
			conf, HashBucketDirective, conf),
		Policy:     remote.MustSucceed,
		Privileged: true,
	}
}

// TestStep validates the full nginx configuration.
func TestStep() remote.Step {
	return remote.Step{Name: "nginx -t", Command: "nginx -t", Policy: remote.MustSucceed, Privileged: true}
}

// ReloadStep applies the configuration.
func ReloadStep(policy remote.Policy) remote.Step {
	return remote.Step{
		Name:       "reload nginx",
		Command:    "systemctl reload nginx || systemctl restart nginx",
		Policy:     policy,
		Privileged: true,
	}
}

// RemoveSiteSteps deletes the enabled link and the site file.
func RemoveSiteSteps() []remote.Step {
	return []remote.Step{
		{
			Name:       "disable site",
			Command:    "rm -f " + security.ShellEscape(constants.NginxEnabledPath()),
			Policy:     remote.BestEffort,
			Privileged: true,
		},
		{
			Name:       "remove site",
			Command:    "rm -f " + security.ShellEscape(constants.NginxAvailablePath()),
			Policy:     remote.BestEffort,
			Privileged: true,
		},
	}
}
